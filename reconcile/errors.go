package reconcile

import "errors"

var (
	ErrUnauthorized       = errors.New("caller is not authorized")
	ErrNoOpponent         = errors.New("no other participant to settle against")
	ErrNotSettleable      = errors.New("challenge is not settleable")
	ErrNotParticipant     = errors.New("not a participant of the challenge")
	ErrNotActive          = errors.New("challenge is not active")
	ErrUnknownSpot        = errors.New("spot is not part of the challenge")
	ErrMissingMetadata    = errors.New("challenge has no metadata")
	ErrDailyLimitExceeded = errors.New("daily challenge creation limit reached")
	ErrInvalidTransition  = errors.New("invalid lifecycle transition")
)
