package storage

import (
	"errors"
	"fmt"
	"time"
)

// SpotCount is the number of target spots in every challenge.
const SpotCount = 10

// ChallengeType labels the only competition format the app creates.
const ChallengeType = "10-spot-competition"

// Status labels stored alongside the metadata. They are display hints; the
// reconciled status is always derived from the ledger.
const (
	// StatusPending marks a record staged at creation whose escrow has not
	// been initialized yet.
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusTimedOut  = "timed_out"
	StatusSettled   = "settled"
	StatusClosed    = "closed"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrWinnerAlreadySet = errors.New("winner already set")
	ErrInvalidRecord    = errors.New("invalid record")
)

// ChallengeMetadata is the off-chain record for a challenge, keyed by the
// challenge address.
type ChallengeMetadata struct {
	Challenge       string    `json:"challengeId"`
	Title           string    `json:"title"`
	Spots           []string  `json:"spots"`
	SpotNames       []string  `json:"spotNames,omitempty"`
	Organizer       string    `json:"organizer"`
	OrganizerName   string    `json:"organizerName"`
	CreatedAt       time.Time `json:"createdAt"`
	StartTs         int64     `json:"startTs"`
	EndTs           int64     `json:"endTs"`
	MaxParticipants uint32    `json:"maxParticipants"`
	// StakeAmount is in SOL, not lamports.
	StakeAmount float64 `json:"stakeAmount"`
	Type        string  `json:"type"`
	Status      string  `json:"status"`
	Winner      string  `json:"winner,omitempty"`
}

func (m *ChallengeMetadata) Validate() error {
	if m.Challenge == "" {
		return fmt.Errorf("%w: challenge id is required", ErrInvalidRecord)
	}
	if m.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidRecord)
	}
	if m.Organizer == "" {
		return fmt.Errorf("%w: organizer is required", ErrInvalidRecord)
	}
	if len(m.Spots) != SpotCount {
		return fmt.Errorf("%w: expected %d spots, got %d", ErrInvalidRecord, SpotCount, len(m.Spots))
	}
	seen := make(map[string]struct{}, len(m.Spots))
	for _, s := range m.Spots {
		if s == "" {
			return fmt.Errorf("%w: empty spot id", ErrInvalidRecord)
		}
		if _, dup := seen[s]; dup {
			return fmt.Errorf("%w: duplicate spot %q", ErrInvalidRecord, s)
		}
		seen[s] = struct{}{}
	}
	if len(m.SpotNames) != 0 && len(m.SpotNames) != len(m.Spots) {
		return fmt.Errorf("%w: spot names do not match spots", ErrInvalidRecord)
	}
	return nil
}

// HasSpot reports whether id is one of the challenge's spots.
func (m *ChallengeMetadata) HasSpot(id string) bool {
	for _, s := range m.Spots {
		if s == id {
			return true
		}
	}
	return false
}

// ParticipantProgress is keyed by challenge id and participant id.
type ParticipantProgress struct {
	Challenge     string     `json:"challengeId"`
	Participant   string     `json:"userId"`
	SpotsCaptured []string   `json:"spotsCaptured"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// ProgressKey is the document key for a progress record.
func ProgressKey(challenge, participant string) string {
	return challenge + "_" + participant
}

// HasCaptured reports whether spot is in the captured list.
func (p *ParticipantProgress) HasCaptured(spot string) bool {
	for _, s := range p.SpotsCaptured {
		if s == spot {
			return true
		}
	}
	return false
}
