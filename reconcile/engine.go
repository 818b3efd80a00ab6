package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"solstep-cli/storage"
)

// Store is the off-chain data the engine reads and the completion records it
// writes.
type Store interface {
	GetMetadata(ctx context.Context, challenge string) (*storage.ChallengeMetadata, error)
	GetProgress(ctx context.Context, challenge, participant string) (*storage.ParticipantProgress, error)
	ListProgress(ctx context.Context, challenge string) (map[string]storage.ParticipantProgress, error)
	SaveProgress(ctx context.Context, p storage.ParticipantProgress) error
	CountCreatedSince(ctx context.Context, organizer string, since time.Time) (int, error)
}

type EngineConfig struct {
	Logger *slog.Logger
	Store  Store
	Clock  clockwork.Clock
}

func (cfg *EngineConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Engine composes ledger snapshots with off-chain records. It holds no state
// of its own; every view can be rebuilt from the two sources.
type Engine struct {
	log   *slog.Logger
	cfg   EngineConfig
	store Store
	clock clockwork.Clock
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		log:   cfg.Logger,
		cfg:   cfg,
		store: cfg.Store,
		clock: cfg.Clock,
	}, nil
}

// Now is the engine clock's current time.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}
