package reconcile

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Settlement is a settle call the gate has accepted.
type Settlement struct {
	Winner solana.PublicKey
	Loser  solana.PublicKey
	// UnrewardedParticipants lists participants beyond the winner and the
	// named loser. The settle instruction has room for one loser only, so
	// these receive nothing from the payout.
	UnrewardedParticipants []solana.PublicKey
}

// HasUnrewarded reports whether the payout leaves participants out.
func (s Settlement) HasUnrewarded() bool {
	return len(s.UnrewardedParticipants) > 0
}

// CanSettle checks a settle call before it is signed. A zero winner means
// "use the designated winner or the policy candidate".
func CanSettle(v View, caller, winner solana.PublicKey) (Settlement, error) {
	if !caller.Equals(v.Challenge.Organizer) {
		return Settlement{}, fmt.Errorf("%w: only the organizer can settle", ErrUnauthorized)
	}

	designated := !winner.IsZero()
	if !designated {
		var ok bool
		winner, ok = WinnerOf(v)
		if !ok {
			return Settlement{}, fmt.Errorf("%w: no winner has been determined", ErrNotSettleable)
		}
		designated = v.HasWinner()
	}
	if v.HasWinner() && !winner.Equals(v.Winner) {
		return Settlement{}, fmt.Errorf("%w: winner already recorded as %s", ErrNotSettleable, v.Winner)
	}
	if v.Status != StatusCompleted && !designated {
		return Settlement{}, fmt.Errorf("%w: status is %s", ErrNotSettleable, v.Status)
	}
	if !v.Challenge.HasParticipant(winner) {
		return Settlement{}, fmt.Errorf("%w: winner %s", ErrNotParticipant, winner)
	}

	var others []solana.PublicKey
	for _, p := range v.Challenge.Participants {
		if !p.Equals(winner) {
			others = append(others, p)
		}
	}
	if len(others) == 0 {
		return Settlement{}, ErrNoOpponent
	}
	return Settlement{
		Winner:                 winner,
		Loser:                  others[0],
		UnrewardedParticipants: others[1:],
	}, nil
}
