package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"solstep-cli/metrics"
	"solstep-cli/storage"
)

// DetectCompletion writes a completion timestamp for participant once every
// spot of the challenge has been captured. It returns true when this call
// wrote the record.
//
// The check is a plain read followed by a write with no conditional update.
// Reruns after a recorded completion are no-ops, but two concurrent callers
// that both read an incomplete record will both write, and the later
// timestamp wins.
func (e *Engine) DetectCompletion(ctx context.Context, v View, participant solana.PublicKey) (bool, error) {
	if v.Status != StatusActive {
		return false, nil
	}
	if v.Metadata == nil {
		return false, ErrMissingMetadata
	}
	if !v.Challenge.HasParticipant(participant) {
		return false, ErrNotParticipant
	}

	challengeID := v.Address().String()
	p, err := e.store.GetProgress(ctx, challengeID, participant.String())
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read progress: %w", err)
	}
	if p.CompletedAt != nil {
		return false, nil
	}
	if len(capturedSpots(v.Metadata, p)) < storage.SpotCount {
		return false, nil
	}

	now := e.clock.Now().UTC()
	p.CompletedAt = &now
	if err := e.store.SaveProgress(ctx, *p); err != nil {
		return false, fmt.Errorf("failed to record completion: %w", err)
	}
	metrics.CompletionsRecordedTotal.Inc()
	e.log.Info("solstep/reconcile: participant completed challenge",
		"challenge", challengeID, "participant", participant, "completedAt", now)
	return true, nil
}

// RecordCapture adds spot to the participant's progress, creating the record
// on first capture, then runs completion detection.
func (e *Engine) RecordCapture(ctx context.Context, v View, participant solana.PublicKey, spot string) (*storage.ParticipantProgress, bool, error) {
	if v.Metadata == nil {
		return nil, false, ErrMissingMetadata
	}
	if v.Status != StatusActive {
		return nil, false, fmt.Errorf("%w: status is %s", ErrNotActive, v.Status)
	}
	if !v.Challenge.HasParticipant(participant) {
		return nil, false, ErrNotParticipant
	}
	if !v.Metadata.HasSpot(spot) {
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownSpot, spot)
	}

	challengeID := v.Address().String()
	p, err := e.store.GetProgress(ctx, challengeID, participant.String())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		p = &storage.ParticipantProgress{
			Challenge:     challengeID,
			Participant:   participant.String(),
			SpotsCaptured: []string{},
		}
	case err != nil:
		return nil, false, fmt.Errorf("failed to read progress: %w", err)
	}

	if !p.HasCaptured(spot) {
		p.SpotsCaptured = append(p.SpotsCaptured, spot)
		if err := e.store.SaveProgress(ctx, *p); err != nil {
			return nil, false, fmt.Errorf("failed to save progress: %w", err)
		}
		e.log.Debug("solstep/reconcile: spot captured",
			"challenge", challengeID, "participant", participant, "spot", spot, "captured", len(p.SpotsCaptured))
	}

	completed, err := e.DetectCompletion(ctx, v, participant)
	if err != nil {
		return nil, false, err
	}
	if completed {
		p, err = e.store.GetProgress(ctx, challengeID, participant.String())
		if err != nil {
			return nil, false, fmt.Errorf("failed to read progress: %w", err)
		}
	}
	return p, completed, nil
}
