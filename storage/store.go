package storage

import (
	"context"
	"time"
)

// Store is the off-chain record store for challenge metadata and progress.
// Writes are plain upserts: callers that need read-check-write semantics
// perform them themselves and accept the race.
type Store interface {
	// PutMetadata stores m as the challenge's record. A record already kept
	// under the same address belongs to an earlier challenge there, so it is
	// replaced and that challenge's progress records are deleted.
	PutMetadata(ctx context.Context, m ChallengeMetadata) error
	GetMetadata(ctx context.Context, challenge string) (*ChallengeMetadata, error)
	ListMetadata(ctx context.Context) ([]ChallengeMetadata, error)
	// CountCreatedSince counts the organizer's challenges created at or after
	// since. Pending records are not counted.
	CountCreatedSince(ctx context.Context, organizer string, since time.Time) (int, error)
	// SetWinner records the winner once. ErrWinnerAlreadySet on a second call.
	SetWinner(ctx context.Context, challenge, winner string) error
	SetStatus(ctx context.Context, challenge, status string) error

	GetProgress(ctx context.Context, challenge, participant string) (*ParticipantProgress, error)
	// ListProgress returns the challenge's progress records keyed by participant.
	ListProgress(ctx context.Context, challenge string) (map[string]ParticipantProgress, error)
	ListProgressByParticipant(ctx context.Context, participant string) ([]ParticipantProgress, error)
	SaveProgress(ctx context.Context, p ParticipantProgress) error

	Close() error
}
