package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"solstep-cli/reconcile"
	solstep "solstep-cli/solana"
	"solstep-cli/storage"
)

var (
	ErrAlreadyJoined   = errors.New("already joined")
	ErrChallengeFull   = errors.New("challenge is full")
	ErrChallengeExists = errors.New("organizer already has an open challenge")
)

// Spot is one capture target.
type Spot struct {
	ID   string
	Name string
}

type CreateRequest struct {
	Title           string
	OrganizerName   string
	Spots           []Spot
	StakeLamports   uint64
	Start           time.Time
	End             time.Time
	MaxParticipants uint32
}

// Create creates the organizer's challenge on the ledger. Its metadata is
// staged as pending before submission, so a create that lands after an
// unknown outcome still has its spots, and becomes live once the escrow is
// initialized.
func (s *Service) Create(ctx context.Context, signer solstep.SigningContext, req CreateRequest) (solana.PublicKey, solstep.Result, error) {
	if solstep.MissingSigner(signer) {
		return solana.PublicKey{}, solstep.Result{}, solstep.ErrWalletNotConnected
	}
	organizer := signer.PublicKey()
	address := s.client.Program.ChallengeAddress(organizer)

	metadata := storage.ChallengeMetadata{
		Challenge:       address.String(),
		Title:           req.Title,
		Organizer:       organizer.String(),
		OrganizerName:   req.OrganizerName,
		CreatedAt:       s.clock.Now().UTC(),
		StartTs:         req.Start.Unix(),
		EndTs:           req.End.Unix(),
		MaxParticipants: req.MaxParticipants,
		StakeAmount:     toSOL(req.StakeLamports),
		Type:            storage.ChallengeType,
		Status:          storage.StatusPending,
	}
	for _, spot := range req.Spots {
		metadata.Spots = append(metadata.Spots, spot.ID)
		metadata.SpotNames = append(metadata.SpotNames, spot.Name)
	}
	if err := metadata.Validate(); err != nil {
		return solana.PublicKey{}, solstep.Result{}, err
	}
	if !req.End.After(req.Start) {
		return solana.PublicKey{}, solstep.Result{}, fmt.Errorf("%w: end must be after start", solstep.ErrInvalidArgument)
	}
	if err := s.engine.CheckDailyLimit(ctx, organizer.String()); err != nil {
		return solana.PublicKey{}, solstep.Result{}, err
	}

	// The address is per organizer, so a live account there blocks the
	// create and its records must be left alone.
	_, err := s.client.Registry.Fetch(ctx, address)
	switch {
	case err == nil:
		return address, solstep.Result{}, fmt.Errorf("%w: close %s before creating another", ErrChallengeExists, address)
	case !errors.Is(err, rpc.ErrNotFound):
		return address, solstep.Result{}, err
	}
	if err := s.store.PutMetadata(ctx, metadata); err != nil {
		return address, solstep.Result{}, fmt.Errorf("failed to stage challenge metadata: %w", err)
	}

	challenge, res, err := s.client.CreateChallenge(ctx, signer, solstep.CreateChallengeArgs{
		Title:           req.Title,
		StakeAmount:     req.StakeLamports,
		StartTs:         metadata.StartTs,
		EndTs:           metadata.EndTs,
		MaxParticipants: req.MaxParticipants,
	})
	res, err = s.submitted("create", challenge, res, err)
	return challenge, res, err
}

// InitEscrow funds the escrow account of the signer's challenge and makes its
// pending metadata live once confirmed. When the escrow turns out to exist
// already, from an earlier attempt whose outcome was unknown, the pending
// metadata is made live before the transition error is returned.
func (s *Service) InitEscrow(ctx context.Context, signer solstep.SigningContext, challenge solana.PublicKey) (solstep.Result, error) {
	if solstep.MissingSigner(signer) {
		return solstep.Result{}, solstep.ErrWalletNotConnected
	}
	v, err := s.View(ctx, challenge)
	if err != nil {
		return solstep.Result{}, err
	}
	phase, err := s.Phase(ctx, v)
	if err != nil {
		return solstep.Result{}, err
	}
	if phase != reconcile.PhaseCreated && v.Challenge.Organizer.Equals(signer.PublicKey()) {
		s.activate(ctx, v)
	}
	if _, err := reconcile.Transition(phase, reconcile.ActionInitEscrow, s.guard(v, signer.PublicKey())); err != nil {
		return solstep.Result{}, err
	}
	res, err := s.client.InitEscrow(ctx, signer, challenge)
	res, err = s.submitted("init_escrow", challenge, res, err)
	if err == nil && res.Outcome == solstep.OutcomeConfirmed {
		s.activate(ctx, v)
	}
	return res, err
}

// activate marks the view's pending metadata as active.
func (s *Service) activate(ctx context.Context, v reconcile.View) {
	switch {
	case v.Metadata == nil:
		s.log.Warn("solstep/challenge: escrow initialized for a challenge without metadata, captures will be rejected",
			"challenge", v.Address())
	case v.Metadata.Status == storage.StatusPending:
		s.setStatus(ctx, v.Address(), storage.StatusActive)
	}
}

// Join stakes the signer into an active challenge.
func (s *Service) Join(ctx context.Context, signer solstep.SigningContext, challenge solana.PublicKey) (solstep.Result, error) {
	if solstep.MissingSigner(signer) {
		return solstep.Result{}, solstep.ErrWalletNotConnected
	}
	v, err := s.View(ctx, challenge)
	if err != nil {
		return solstep.Result{}, err
	}
	if v.Status != reconcile.StatusActive {
		return solstep.Result{}, fmt.Errorf("%w: status is %s", reconcile.ErrNotActive, v.Status)
	}
	if v.Challenge.HasParticipant(signer.PublicKey()) {
		return solstep.Result{}, ErrAlreadyJoined
	}
	if v.Challenge.ParticipantCount >= v.Challenge.MaxParticipants {
		return solstep.Result{}, ErrChallengeFull
	}
	res, err := s.client.JoinChallenge(ctx, signer, challenge)
	return s.submitted("join", challenge, res, err)
}

// Capture records a captured spot for participant and reports whether it
// completed the challenge.
func (s *Service) Capture(ctx context.Context, participant, challenge solana.PublicKey, spot string) (*storage.ParticipantProgress, bool, error) {
	v, err := s.View(ctx, challenge)
	if err != nil {
		return nil, false, err
	}
	return s.engine.RecordCapture(ctx, v, participant, spot)
}

func (s *Service) Finalize(ctx context.Context, signer solstep.SigningContext, challenge solana.PublicKey) (solstep.Result, error) {
	if solstep.MissingSigner(signer) {
		return solstep.Result{}, solstep.ErrWalletNotConnected
	}
	v, err := s.View(ctx, challenge)
	if err != nil {
		return solstep.Result{}, err
	}
	if err := s.transition(ctx, v, reconcile.ActionFinalize, s.guard(v, signer.PublicKey())); err != nil {
		return solstep.Result{}, err
	}
	res, err := s.client.FinalizeChallenge(ctx, signer, challenge)
	return s.submitted("finalize", challenge, res, err)
}

// Settle pays the escrow to the winner. A zero winner settles with the
// designated winner or the earliest completion. The cached snapshot is only
// refreshed after a confirmed settlement.
func (s *Service) Settle(ctx context.Context, signer solstep.SigningContext, challenge, winner solana.PublicKey) (reconcile.Settlement, solstep.Result, error) {
	if solstep.MissingSigner(signer) {
		return reconcile.Settlement{}, solstep.Result{}, solstep.ErrWalletNotConnected
	}
	v, err := s.View(ctx, challenge)
	if err != nil {
		return reconcile.Settlement{}, solstep.Result{}, err
	}
	settlement, err := reconcile.CanSettle(v, signer.PublicKey(), winner)
	if err != nil {
		return reconcile.Settlement{}, solstep.Result{}, err
	}
	g := s.guard(v, signer.PublicKey())
	g.WinnerAccepted = !winner.IsZero() || v.HasWinner()
	if err := s.transition(ctx, v, reconcile.ActionSettle, g); err != nil {
		return settlement, solstep.Result{}, err
	}
	if settlement.HasUnrewarded() {
		s.log.Warn("solstep/challenge: settlement pays one winner against one loser, other stakes go to the winner",
			"challenge", challenge, "unrewarded", len(settlement.UnrewardedParticipants))
	}

	res, err := s.client.SettleChallenge(ctx, signer, challenge, settlement.Winner, settlement.Loser)
	res, err = s.submitted("settle", challenge, res, err)
	if err != nil || res.Outcome != solstep.OutcomeConfirmed {
		return settlement, res, err
	}

	err = s.store.SetWinner(ctx, challenge.String(), settlement.Winner.String())
	switch {
	case err == nil, errors.Is(err, storage.ErrWinnerAlreadySet):
		s.setStatus(ctx, challenge, storage.StatusSettled)
	case errors.Is(err, storage.ErrNotFound):
	default:
		s.log.Warn("solstep/challenge: failed to record winner", "challenge", challenge, "error", err)
	}
	if _, err := s.Refresh(ctx); err != nil {
		s.log.Warn("solstep/challenge: failed to refresh snapshot", "error", err)
	}
	return settlement, res, nil
}

// Timeout refunds every participant of an expired, unfinalized challenge.
// Any wallet may call it.
func (s *Service) Timeout(ctx context.Context, signer solstep.SigningContext, challenge solana.PublicKey) (solstep.Result, error) {
	if solstep.MissingSigner(signer) {
		return solstep.Result{}, solstep.ErrWalletNotConnected
	}
	v, err := s.View(ctx, challenge)
	if err != nil {
		return solstep.Result{}, err
	}
	if err := s.transition(ctx, v, reconcile.ActionTimeout, s.guard(v, signer.PublicKey())); err != nil {
		return solstep.Result{}, err
	}
	res, err := s.client.TimeoutChallenge(ctx, signer, challenge, v.Challenge.Organizer)
	res, err = s.submitted("timeout", challenge, res, err)
	if err == nil && res.Outcome == solstep.OutcomeConfirmed {
		s.setStatus(ctx, challenge, storage.StatusTimedOut)
	}
	return res, err
}

// Close deletes a settled challenge account and returns its rent to the
// organizer.
func (s *Service) Close(ctx context.Context, signer solstep.SigningContext, challenge solana.PublicKey) (solstep.Result, error) {
	if solstep.MissingSigner(signer) {
		return solstep.Result{}, solstep.ErrWalletNotConnected
	}
	v, err := s.View(ctx, challenge)
	if err != nil {
		return solstep.Result{}, err
	}
	if err := s.transition(ctx, v, reconcile.ActionClose, s.guard(v, signer.PublicKey())); err != nil {
		return solstep.Result{}, err
	}
	res, err := s.client.CloseChallenge(ctx, signer, challenge)
	res, err = s.submitted("close", challenge, res, err)
	if err == nil && res.Outcome == solstep.OutcomeConfirmed {
		s.setStatus(ctx, challenge, storage.StatusClosed)
	}
	return res, err
}

// Audit checks every escrow in a fresh snapshot.
func (s *Service) Audit(ctx context.Context) ([]solstep.AuditReport, error) {
	snap, err := s.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	return s.client.Auditor.AuditAll(ctx, snap.Challenges)
}

// History lists the challenges wallet organized or joined.
func (s *Service) History(ctx context.Context, wallet solana.PublicKey) ([]reconcile.HistoryEntry, error) {
	views, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return reconcile.History(views, wallet), nil
}
