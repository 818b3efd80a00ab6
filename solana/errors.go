package solstep_protocol

import (
	"errors"
	"fmt"
)

var (
	ErrWalletNotConnected   = errors.New("wallet not connected")
	ErrSigningUnavailable   = errors.New("signing unavailable")
	ErrProgramUninitialized = errors.New("program not initialized")
	ErrAddressExhausted     = errors.New("unable to find a viable program address")
	ErrNetwork              = errors.New("network error")
	ErrSignatureRejected    = errors.New("signature rejected")
	ErrLedgerRejected       = errors.New("ledger rejected transaction")
	// ErrConfirmationTimeout is soft: the transaction may still land.
	ErrConfirmationTimeout = errors.New("confirmation timed out, outcome unknown")
	ErrDecodeFailure       = errors.New("failed to decode account")
	ErrInvalidArgument     = errors.New("invalid instruction argument")
)

// LedgerRejectedError is returned when the ledger explicitly failed a
// transaction, either at preflight or after execution.
type LedgerRejectedError struct {
	Reason string
}

func (e *LedgerRejectedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrLedgerRejected, e.Reason)
}

func (e *LedgerRejectedError) Is(target error) bool {
	return target == ErrLedgerRejected
}

func ledgerRejected(reason any) *LedgerRejectedError {
	switch r := reason.(type) {
	case string:
		return &LedgerRejectedError{Reason: r}
	case error:
		return &LedgerRejectedError{Reason: r.Error()}
	default:
		return &LedgerRejectedError{Reason: fmt.Sprintf("%v", r)}
	}
}
