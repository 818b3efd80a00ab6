// Package challenge runs challenge operations end to end: it checks each
// call against the reconciled view, submits the instruction, and keeps the
// off-chain records in step with what the ledger confirmed.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"

	"solstep-cli/reconcile"
	solstep "solstep-cli/solana"
	"solstep-cli/storage"
)

// LamportsPerSOL converts stake amounts for the off-chain record.
const LamportsPerSOL = solana.LAMPORTS_PER_SOL

type ServiceConfig struct {
	Logger *slog.Logger
	Client *solstep.Client
	Store  storage.Store
	Clock  clockwork.Clock
	// ActivityLimit bounds the history scanned when deriving a phase.
	ActivityLimit int
}

func (cfg *ServiceConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("ledger client is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ActivityLimit <= 0 {
		cfg.ActivityLimit = 100
	}
	return nil
}

type Service struct {
	log    *slog.Logger
	cfg    ServiceConfig
	client *solstep.Client
	store  storage.Store
	clock  clockwork.Clock
	engine *reconcile.Engine
	cache  reconcile.Cache
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	engine, err := reconcile.NewEngine(reconcile.EngineConfig{
		Logger: cfg.Logger,
		Store:  cfg.Store,
		Clock:  cfg.Clock,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create reconciliation engine: %w", err)
	}
	return &Service{
		log:    cfg.Logger,
		cfg:    cfg,
		client: cfg.Client,
		store:  cfg.Store,
		clock:  cfg.Clock,
		engine: engine,
	}, nil
}

// Snapshot is the most recently cached registry fetch, or nil.
func (s *Service) Snapshot() *reconcile.Snapshot {
	return s.cache.Current()
}

// Refresh fetches every challenge account and caches the result.
func (s *Service) Refresh(ctx context.Context) (*reconcile.Snapshot, error) {
	return s.engine.Refresh(ctx, s.client.Registry, &s.cache)
}

// View reconciles one challenge straight from the ledger.
func (s *Service) View(ctx context.Context, challenge solana.PublicKey) (reconcile.View, error) {
	c, err := s.client.Registry.Fetch(ctx, challenge)
	if err != nil {
		return reconcile.View{}, fmt.Errorf("failed to fetch challenge %s: %w", challenge, err)
	}
	return s.reconcile(ctx, c)
}

// List refreshes the snapshot and reconciles every challenge in it.
func (s *Service) List(ctx context.Context) ([]reconcile.View, error) {
	snap, err := s.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]reconcile.View, 0, len(snap.Challenges))
	for _, c := range snap.Challenges {
		v, err := s.reconcile(ctx, c)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

func (s *Service) reconcile(ctx context.Context, c *solstep.Challenge) (reconcile.View, error) {
	id := c.PublicKey.String()
	metadata, err := s.store.GetMetadata(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		metadata = nil
	case err != nil:
		return reconcile.View{}, fmt.Errorf("failed to read metadata for %s: %w", id, err)
	}
	progress, err := s.store.ListProgress(ctx, id)
	if err != nil {
		return reconcile.View{}, fmt.Errorf("failed to read progress for %s: %w", id, err)
	}
	return s.engine.Reconcile(c, metadata, progress), nil
}

// Phase derives the lifecycle phase of a view from the escrow balance and
// the challenge's instruction history.
func (s *Service) Phase(ctx context.Context, v reconcile.View) (reconcile.Phase, error) {
	if v.Challenge == nil {
		return reconcile.PhaseClosed, nil
	}
	balance, err := s.client.Auditor.EscrowBalance(ctx, v.Address())
	if err != nil {
		return 0, err
	}
	events, err := s.client.Activity(ctx, v.Address(), s.cfg.ActivityLimit)
	if err != nil {
		return 0, err
	}
	return reconcile.DerivePhase(v, reconcile.FactsFromActivity(balance > 0, events)), nil
}

func (s *Service) guard(v reconcile.View, caller solana.PublicKey) reconcile.Guard {
	return reconcile.Guard{
		Now:       s.clock.Now(),
		StartTs:   v.Challenge.StartTs,
		EndTs:     v.Challenge.EndTs,
		Caller:    caller,
		Organizer: v.Challenge.Organizer,
	}
}

// transition checks action against the challenge's current phase.
func (s *Service) transition(ctx context.Context, v reconcile.View, action reconcile.Action, g reconcile.Guard) error {
	phase, err := s.Phase(ctx, v)
	if err != nil {
		return err
	}
	if _, err := reconcile.Transition(phase, action, g); err != nil {
		return err
	}
	return nil
}

// submitted logs a submission and converts a soft timeout into a nil error
// so callers can report the unknown outcome themselves.
func (s *Service) submitted(op string, challenge solana.PublicKey, res solstep.Result, err error) (solstep.Result, error) {
	if errors.Is(err, solstep.ErrConfirmationTimeout) {
		s.log.Warn("solstep/challenge: outcome unknown, check the ledger before retrying",
			"op", op, "challenge", challenge, "signature", res.Signature)
		return res, nil
	}
	if err != nil {
		return res, err
	}
	s.log.Info("solstep/challenge: instruction confirmed", "op", op, "challenge", challenge, "signature", res.Signature)
	return res, nil
}

// setStatus records a display status. The ledger is authoritative, so a
// failure here is logged and not returned.
func (s *Service) setStatus(ctx context.Context, challenge solana.PublicKey, status string) {
	err := s.store.SetStatus(ctx, challenge.String(), status)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.log.Warn("solstep/challenge: failed to update status", "challenge", challenge, "status", status, "error", err)
	}
}

func toSOL(lamports uint64) float64 {
	return float64(lamports) / float64(LamportsPerSOL)
}

func unixTime(ts int64) time.Time {
	return time.Unix(ts, 0).UTC()
}
