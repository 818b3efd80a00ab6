package reconcile

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"

	solstep "solstep-cli/solana"
)

type Phase int

const (
	PhaseCreated Phase = iota
	PhaseEscrowInitialized
	PhaseActive
	PhaseFinalized
	PhaseTimedOut
	PhaseSettled
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseEscrowInitialized:
		return "escrow_initialized"
	case PhaseActive:
		return "active"
	case PhaseFinalized:
		return "finalized"
	case PhaseTimedOut:
		return "timed_out"
	case PhaseSettled:
		return "settled"
	case PhaseClosed:
		return "closed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

type Action int

const (
	ActionInitEscrow Action = iota
	ActionFinalize
	ActionTimeout
	ActionSettle
	ActionClose
)

func (a Action) String() string {
	switch a {
	case ActionInitEscrow:
		return "init_escrow"
	case ActionFinalize:
		return "finalize"
	case ActionTimeout:
		return "timeout"
	case ActionSettle:
		return "settle"
	case ActionClose:
		return "close"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Guard carries what the transition guards look at.
type Guard struct {
	Now       time.Time
	StartTs   int64
	EndTs     int64
	Caller    solana.PublicKey
	Organizer solana.PublicKey
	// WinnerAccepted lets an organizer settle before finalization once a
	// winner has been designated.
	WinnerAccepted bool
}

func (g Guard) afterEnd() bool {
	return g.Now.Unix() >= g.EndTs
}

func (g Guard) byOrganizer() bool {
	return g.Caller.Equals(g.Organizer)
}

// Activate moves an initialized challenge into its window. Activation has no
// instruction of its own; it happens when the start time passes.
func Activate(from Phase, g Guard) Phase {
	now := g.Now.Unix()
	if from == PhaseEscrowInitialized && now >= g.StartTs && now < g.EndTs {
		return PhaseActive
	}
	return from
}

// Transition applies action to a challenge in phase from. Phases never move
// backwards.
func Transition(from Phase, action Action, g Guard) (Phase, error) {
	invalid := func(reason string) (Phase, error) {
		return from, fmt.Errorf("%w: cannot %s from %s: %s", ErrInvalidTransition, action, from, reason)
	}

	switch action {
	case ActionInitEscrow:
		if from != PhaseCreated {
			return invalid("escrow already initialized")
		}
		if !g.byOrganizer() {
			return from, fmt.Errorf("%w: only the organizer can initialize the escrow", ErrUnauthorized)
		}
		return Activate(PhaseEscrowInitialized, g), nil

	case ActionFinalize:
		if from != PhaseEscrowInitialized && from != PhaseActive {
			return invalid("challenge is not running")
		}
		if !g.byOrganizer() {
			return from, fmt.Errorf("%w: only the organizer can finalize", ErrUnauthorized)
		}
		if !g.afterEnd() {
			return invalid("end time has not passed")
		}
		return PhaseFinalized, nil

	case ActionTimeout:
		if from != PhaseCreated && from != PhaseEscrowInitialized && from != PhaseActive {
			return invalid("challenge already finalized or closed")
		}
		if !g.afterEnd() {
			return invalid("end time has not passed")
		}
		return PhaseTimedOut, nil

	case ActionSettle:
		switch from {
		case PhaseFinalized:
		case PhaseEscrowInitialized, PhaseActive:
			if !g.WinnerAccepted {
				return invalid("no accepted winner")
			}
		default:
			return invalid("challenge is not finalized")
		}
		if !g.byOrganizer() {
			return from, fmt.Errorf("%w: only the organizer can settle", ErrUnauthorized)
		}
		return PhaseSettled, nil

	case ActionClose:
		if from != PhaseSettled {
			return invalid("challenge is not settled")
		}
		if !g.byOrganizer() {
			return from, fmt.Errorf("%w: only the organizer can close", ErrUnauthorized)
		}
		return PhaseClosed, nil
	}
	return invalid("unknown action")
}

// LedgerFacts are what the ledger shows about a challenge beyond its
// account data.
type LedgerFacts struct {
	EscrowExists bool
	// Settled and TimedOut report that a settle or timeout instruction
	// landed successfully.
	Settled  bool
	TimedOut bool
}

// FactsFromActivity collects what a challenge's instruction history shows,
// oldest first. A challenge address is reused once the organizer closes and
// creates again, so a create resets what came before. escrowFunded stands in
// for EscrowExists only when the history does not reach back to a create.
func FactsFromActivity(escrowFunded bool, events []solstep.ActivityEvent) LedgerFacts {
	f := LedgerFacts{EscrowExists: escrowFunded}
	for _, ev := range events {
		if ev.Failed {
			continue
		}
		switch ev.Instruction {
		case "create_challenge":
			f = LedgerFacts{}
		case "init_escrow":
			f.EscrowExists = true
		case "settle_challenge":
			f.Settled = true
		case "timeout_challenge":
			f.TimedOut = true
		}
	}
	return f
}

// DerivePhase maps a view and the ledger facts to a lifecycle phase. A nil
// challenge account means the account has been closed.
//
// The account data carries no settled or timed-out flag, so those come from
// the instruction history. A timeout pays its refunds in the same
// instruction, which leaves a timed-out challenge settled once it lands. A
// challenge past its deadline that nobody has finalized or timed out is
// still active.
func DerivePhase(v View, f LedgerFacts) Phase {
	if v.Challenge == nil {
		return PhaseClosed
	}
	c := v.Challenge
	switch {
	case f.Settled, f.TimedOut:
		return PhaseSettled
	case c.IsFinalized:
		return PhaseFinalized
	case !f.EscrowExists:
		return PhaseCreated
	case v.AsOf.Unix() >= c.StartTs:
		return PhaseActive
	default:
		return PhaseEscrowInitialized
	}
}
