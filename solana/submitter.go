package solstep_protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"github.com/jonboulle/clockwork"

	"solstep-cli/metrics"
	"solstep-cli/utils/retry"
)

// ConfirmationTimeout bounds how long Submit waits on the confirmation
// subscription before falling back to a single status poll.
const ConfirmationTimeout = 30 * time.Second

// MaxSendAttempts is how many times the same signed transaction is broadcast
// on transport errors.
const MaxSendAttempts = 3

// Outcome is what is known about a submitted transaction.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeConfirmed
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Result of a submission. Signature is zero when nothing was broadcast.
type Result struct {
	Signature solana.Signature
	Outcome   Outcome
	Reason    string
}

// SubmitRPC is the subset of the RPC client used to submit transactions.
type SubmitRPC interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// SigningContext signs transactions on behalf of a wallet.
type SigningContext interface {
	PublicKey() solana.PublicKey
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// MissingSigner reports whether signer is unset. A nil *Wallet stored in the
// interface counts as unset.
func MissingSigner(signer SigningContext) bool {
	switch w := signer.(type) {
	case nil:
		return true
	case *Wallet:
		return w == nil
	}
	return false
}

// Confirmer waits until the ledger reports a signature as processed. txErr is
// the execution error reported by the ledger, nil on success.
type Confirmer interface {
	AwaitSignature(ctx context.Context, sig solana.Signature) (txErr any, err error)
}

// WSConfirmer confirms signatures over a websocket signature subscription.
type WSConfirmer struct {
	Client     *ws.Client
	Commitment rpc.CommitmentType
}

func (c *WSConfirmer) AwaitSignature(ctx context.Context, sig solana.Signature) (any, error) {
	sub, err := c.Client.SignatureSubscribe(sig, c.Commitment)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to signature: %w", err)
	}
	defer sub.Unsubscribe()

	res, err := sub.Recv(ctx)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New("signature subscription closed")
	}
	return res.Value.Err, nil
}

type SubmitterConfig struct {
	Logger     *slog.Logger
	RPC        SubmitRPC
	Confirmer  Confirmer
	Commitment rpc.CommitmentType
	Clock      clockwork.Clock
	// Resend controls rebroadcasts of the signed transaction. MaxAttempts is
	// capped at MaxSendAttempts.
	Resend retry.Config
}

func (cfg *SubmitterConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc client is required")
	}
	if cfg.Confirmer == nil {
		return errors.New("confirmer is required")
	}
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Resend.MaxAttempts <= 0 || cfg.Resend.MaxAttempts > MaxSendAttempts {
		cfg.Resend.MaxAttempts = MaxSendAttempts
	}
	if cfg.Resend.Clock == nil {
		cfg.Resend.Clock = cfg.Clock
	}
	cfg.Resend.Retryable = isResendable
	return nil
}

// Submitter signs, broadcasts and confirms single-instruction transactions.
type Submitter struct {
	log *slog.Logger
	cfg SubmitterConfig
}

func NewSubmitter(cfg SubmitterConfig) (*Submitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Submitter{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Submit runs one instruction through the ledger. The returned error is nil
// only for OutcomeConfirmed. ErrConfirmationTimeout comes with OutcomeUnknown:
// the transaction may still land and must not be treated as reverted.
func (s *Submitter) Submit(ctx context.Context, ix solana.Instruction, signer SigningContext) (Result, error) {
	name := instructionLabel(ix)
	res, err := s.submit(ctx, name, ix, signer)
	metrics.SubmissionsTotal.WithLabelValues(name, res.Outcome.String()).Inc()
	if err != nil {
		s.log.Warn("solstep/submitter: submission did not confirm", "instruction", name, "signature", res.Signature.String(), "outcome", res.Outcome.String(), "error", err)
	} else {
		s.log.Info("solstep/submitter: transaction confirmed", "instruction", name, "signature", res.Signature.String())
	}
	return res, err
}

func (s *Submitter) submit(ctx context.Context, name string, ix solana.Instruction, signer SigningContext) (Result, error) {
	if MissingSigner(signer) || signer.PublicKey().IsZero() {
		return Result{Outcome: OutcomeRejected}, ErrWalletNotConnected
	}

	// Blockhashes expire, so fetch one right before assembling.
	recent, err := s.cfg.RPC.GetLatestBlockhash(ctx, s.cfg.Commitment)
	if err != nil {
		return Result{Outcome: OutcomeRejected}, fmt.Errorf("%w: failed to get latest blockhash: %v", ErrNetwork, err)
	}
	if recent == nil || recent.Value == nil {
		return Result{Outcome: OutcomeRejected}, fmt.Errorf("%w: empty latest blockhash response", ErrNetwork)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		recent.Value.Blockhash,
		solana.TransactionPayer(signer.PublicKey()),
	)
	if err != nil {
		return Result{Outcome: OutcomeRejected}, fmt.Errorf("failed to create transaction: %w", err)
	}

	if err := signer.SignTransaction(ctx, tx); err != nil {
		if errors.Is(err, ErrSigningUnavailable) || errors.Is(err, ErrWalletNotConnected) {
			return Result{Outcome: OutcomeRejected}, err
		}
		return Result{Outcome: OutcomeRejected}, fmt.Errorf("%w: %v", ErrSignatureRejected, err)
	}
	if len(tx.Signatures) == 0 {
		return Result{Outcome: OutcomeRejected}, ErrSigningUnavailable
	}
	sig := tx.Signatures[0]
	res := Result{Signature: sig}

	err = retry.Do(ctx, s.cfg.Resend, func() error {
		_, sendErr := s.cfg.RPC.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			PreflightCommitment: s.cfg.Commitment,
		})
		if sendErr != nil {
			s.log.Debug("solstep/submitter: broadcast failed", "instruction", name, "signature", sig.String(), "error", sendErr)
		}
		return sendErr
	})
	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			res.Outcome = OutcomeRejected
			res.Reason = rpcErr.Message
			return res, ledgerRejected(rpcErr.Message)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			res.Outcome = OutcomeUnknown
			return res, err
		}
		res.Outcome = OutcomeUnknown
		return res, fmt.Errorf("%w: failed to send transaction: %v", ErrNetwork, err)
	}

	return s.confirm(ctx, name, res)
}

func (s *Submitter) confirm(ctx context.Context, name string, res Result) (Result, error) {
	start := s.cfg.Clock.Now()
	defer func() {
		metrics.ConfirmationDuration.WithLabelValues(name).Observe(s.cfg.Clock.Since(start).Seconds())
	}()

	type confirmation struct {
		txErr any
		err   error
	}
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan confirmation, 1)
	go func() {
		txErr, err := s.cfg.Confirmer.AwaitSignature(subCtx, res.Signature)
		done <- confirmation{txErr: txErr, err: err}
	}()

	timer := s.cfg.Clock.NewTimer(ConfirmationTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		res.Outcome = OutcomeUnknown
		return res, ctx.Err()
	case c := <-done:
		if c.err == nil {
			if c.txErr != nil {
				res.Outcome = OutcomeRejected
				res.Reason = fmt.Sprintf("%v", c.txErr)
				return res, ledgerRejected(c.txErr)
			}
			res.Outcome = OutcomeConfirmed
			return res, nil
		}
		s.log.Debug("solstep/submitter: confirmation subscription failed, polling status", "signature", res.Signature.String(), "error", c.err)
	case <-timer.Chan():
		s.log.Debug("solstep/submitter: confirmation timed out, polling status", "signature", res.Signature.String())
	}
	cancel()

	return s.pollOnce(ctx, res)
}

// pollOnce is the single status check after the subscription gave up.
func (s *Submitter) pollOnce(ctx context.Context, res Result) (Result, error) {
	res.Outcome = OutcomeUnknown
	statuses, err := s.cfg.RPC.GetSignatureStatuses(ctx, true, res.Signature)
	if err != nil {
		metrics.ConfirmationFallbackPollsTotal.WithLabelValues("error").Inc()
		return res, fmt.Errorf("%w: status poll failed: %v", ErrConfirmationTimeout, err)
	}
	if statuses == nil || len(statuses.Value) == 0 || statuses.Value[0] == nil {
		metrics.ConfirmationFallbackPollsTotal.WithLabelValues("pending").Inc()
		return res, ErrConfirmationTimeout
	}

	status := statuses.Value[0]
	if status.Err != nil {
		metrics.ConfirmationFallbackPollsTotal.WithLabelValues("rejected").Inc()
		res.Outcome = OutcomeRejected
		res.Reason = fmt.Sprintf("%v", status.Err)
		return res, ledgerRejected(status.Err)
	}
	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		metrics.ConfirmationFallbackPollsTotal.WithLabelValues("confirmed").Inc()
		res.Outcome = OutcomeConfirmed
		return res, nil
	default:
		metrics.ConfirmationFallbackPollsTotal.WithLabelValues("pending").Inc()
		return res, ErrConfirmationTimeout
	}
}

// isResendable reports whether a broadcast failure may be retried with the
// same signed payload. Explicit RPC errors (preflight failures) are final.
func isResendable(err error) bool {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return false
	}
	return retry.IsRetryable(err)
}

func instructionLabel(ix solana.Instruction) string {
	data, err := ix.Data()
	if err != nil {
		return "unknown"
	}
	return InstructionName(data)
}
