package reconcile

import (
	"sort"
	"time"

	"github.com/gagliardetto/solana-go"

	solstep "solstep-cli/solana"
	"solstep-cli/storage"
)

type Status int

const (
	StatusActive Status = iota
	StatusCompleted
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return storage.StatusCompleted
	case StatusTimedOut:
		return storage.StatusTimedOut
	default:
		return storage.StatusActive
	}
}

// View is a challenge as the ledger and the off-chain store see it together.
// Metadata may be nil when the off-chain record is missing; the view is still
// usable for settlement and auditing.
type View struct {
	Challenge *solstep.Challenge
	Metadata  *storage.ChallengeMetadata
	Progress  map[string]storage.ParticipantProgress
	Status    Status
	// Winner is the designated winner from the off-chain record, if any.
	Winner solana.PublicKey
	// Candidate is the participant the winner policy would pick when no
	// winner has been designated.
	Candidate solana.PublicKey
	AsOf      time.Time
}

// Address is the challenge account address.
func (v *View) Address() solana.PublicKey {
	return v.Challenge.PublicKey
}

// Title falls back to the address when no metadata exists.
func (v *View) Title() string {
	if v.Metadata != nil && v.Metadata.Title != "" {
		return v.Metadata.Title
	}
	return v.Challenge.PublicKey.String()
}

// HasWinner reports whether a winner has been designated.
func (v *View) HasWinner() bool {
	return !v.Winner.IsZero()
}

// Captured returns the participant's captured spots restricted to the
// challenge's spot list, in spot-list order.
func (v *View) Captured(participant solana.PublicKey) []string {
	if v.Metadata == nil {
		return nil
	}
	p, ok := v.Progress[participant.String()]
	if !ok {
		return nil
	}
	return capturedSpots(v.Metadata, &p)
}

// Reconcile merges a ledger record with its off-chain metadata and progress
// records. The status order is: designated winner, then ledger finalization,
// then the deadline. Records whose schedule differs from the ledger account
// belong to an earlier challenge at the same address and are ignored.
func Reconcile(now time.Time, challenge *solstep.Challenge, metadata *storage.ChallengeMetadata, progress map[string]storage.ParticipantProgress) View {
	if staleMetadata(challenge, metadata) {
		metadata, progress = nil, nil
	}
	if progress == nil {
		progress = map[string]storage.ParticipantProgress{}
	}
	v := View{
		Challenge: challenge,
		Metadata:  metadata,
		Progress:  progress,
		AsOf:      now,
	}
	if metadata != nil && metadata.Winner != "" {
		if key, err := solana.PublicKeyFromBase58(metadata.Winner); err == nil {
			v.Winner = key
		}
	}

	switch {
	case v.HasWinner():
		v.Status = StatusCompleted
	case challenge.IsFinalized:
		v.Status = StatusCompleted
	case now.Unix() >= challenge.EndTs:
		v.Status = StatusTimedOut
	default:
		v.Status = StatusActive
	}

	v.Candidate = selectCandidate(challenge, metadata, progress)
	return v
}

// Reconcile builds a view at the engine clock's current time.
func (e *Engine) Reconcile(challenge *solstep.Challenge, metadata *storage.ChallengeMetadata, progress map[string]storage.ParticipantProgress) View {
	switch {
	case staleMetadata(challenge, metadata):
		e.log.Warn("solstep/reconcile: ignoring off-chain records of an earlier challenge at this address",
			"challenge", challenge.PublicKey.String(), "recordStartTs", metadata.StartTs, "ledgerStartTs", challenge.StartTs)
	case metadata != nil && metadata.Winner != "":
		if _, err := solana.PublicKeyFromBase58(metadata.Winner); err != nil {
			e.log.Warn("solstep/reconcile: ignoring invalid winner in metadata",
				"challenge", challenge.PublicKey.String(), "winner", metadata.Winner, "error", err)
		}
	}
	return Reconcile(e.clock.Now(), challenge, metadata, progress)
}

// staleMetadata reports whether metadata was written for an earlier challenge
// at the same address.
func staleMetadata(challenge *solstep.Challenge, metadata *storage.ChallengeMetadata) bool {
	return metadata != nil && (metadata.StartTs != challenge.StartTs || metadata.EndTs != challenge.EndTs)
}

// WinnerOf returns the designated winner, or the policy candidate when none
// has been designated. ok is false when neither exists.
func WinnerOf(v View) (solana.PublicKey, bool) {
	if v.HasWinner() {
		return v.Winner, true
	}
	if !v.Candidate.IsZero() {
		return v.Candidate, true
	}
	return solana.PublicKey{}, false
}

// selectCandidate picks the earliest completion among ledger participants.
// Ties go to the lexicographically smallest participant id.
func selectCandidate(challenge *solstep.Challenge, metadata *storage.ChallengeMetadata, progress map[string]storage.ParticipantProgress) solana.PublicKey {
	if metadata == nil {
		return solana.PublicKey{}
	}
	type completion struct {
		key solana.PublicKey
		id  string
		at  time.Time
	}
	var done []completion
	for _, p := range challenge.Participants {
		rec, ok := progress[p.String()]
		if !ok || rec.CompletedAt == nil {
			continue
		}
		if len(capturedSpots(metadata, &rec)) < storage.SpotCount {
			continue
		}
		done = append(done, completion{key: p, id: p.String(), at: *rec.CompletedAt})
	}
	if len(done) == 0 {
		return solana.PublicKey{}
	}
	sort.Slice(done, func(i, j int) bool {
		if !done[i].at.Equal(done[j].at) {
			return done[i].at.Before(done[j].at)
		}
		return done[i].id < done[j].id
	})
	return done[0].key
}

func capturedSpots(metadata *storage.ChallengeMetadata, p *storage.ParticipantProgress) []string {
	out := make([]string, 0, len(metadata.Spots))
	for _, s := range metadata.Spots {
		if p.HasCaptured(s) {
			out = append(out, s)
		}
	}
	return out
}
