package solstep_protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// EscrowDataSize is the escrow account's data length; it holds lamports only.
const EscrowDataSize = 0

// AuditReport compares an escrow balance with what the challenge says it holds.
type AuditReport struct {
	Challenge solana.PublicKey `json:"challenge"`
	Escrow    solana.PublicKey `json:"escrow"`
	Expected  uint64           `json:"expected"`
	Actual    uint64           `json:"actual"`
	// Delta is Actual - Expected, clamped to the int64 range.
	Delta int64 `json:"delta"`
	// Reserve is the rent-exempt minimum the escrow keeps after being drained,
	// when known.
	Reserve uint64 `json:"reserve,omitempty"`
}

// Audit never fails; a mismatch is information for display, not an error.
func Audit(challenge *Challenge, escrowBalance uint64) AuditReport {
	expected := challenge.ExpectedStake()
	report := AuditReport{
		Challenge: challenge.PublicKey,
		Expected:  expected,
		Actual:    escrowBalance,
		Delta:     balanceDelta(escrowBalance, expected),
	}
	return report
}

func balanceDelta(actual, expected uint64) int64 {
	if actual >= expected {
		d := actual - expected
		if d > math.MaxInt64 {
			return math.MaxInt64
		}
		return int64(d)
	}
	d := expected - actual
	if d > math.MaxInt64 {
		return math.MinInt64
	}
	return -int64(d)
}

// BalanceRPC is the subset of the RPC client the auditor reads through.
type BalanceRPC interface {
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64, commitment rpc.CommitmentType) (uint64, error)
}

type AuditorConfig struct {
	Logger      *slog.Logger
	RPC         BalanceRPC
	Program     *Program
	Commitment  rpc.CommitmentType
	Concurrency int
	// RequestsPerSecond limits balance lookups; public RPC endpoints throttle
	// aggressively.
	RequestsPerSecond float64
}

func (cfg *AuditorConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc client is required")
	}
	if cfg.Program == nil {
		return ErrProgramUninitialized
	}
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	return nil
}

// Auditor fetches escrow balances and audits them.
type Auditor struct {
	log     *slog.Logger
	cfg     AuditorConfig
	limiter *rate.Limiter
}

func NewAuditor(cfg AuditorConfig) (*Auditor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Auditor{
		log:     cfg.Logger,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}, nil
}

// EscrowBalance returns the lamport balance of the challenge's escrow.
func (a *Auditor) EscrowBalance(ctx context.Context, challenge solana.PublicKey) (uint64, error) {
	escrow, _, err := a.cfg.Program.GetEscrowPDA(challenge)
	if err != nil {
		return 0, err
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	resp, err := a.cfg.RPC.GetBalance(ctx, escrow, a.cfg.Commitment)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to get escrow balance for %s: %v", ErrNetwork, challenge, err)
	}
	return resp.Value, nil
}

// RentReserve is the minimum balance a drained escrow keeps.
func (a *Auditor) RentReserve(ctx context.Context) (uint64, error) {
	reserve, err := a.cfg.RPC.GetMinimumBalanceForRentExemption(ctx, EscrowDataSize, a.cfg.Commitment)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to get rent-exempt minimum: %v", ErrNetwork, err)
	}
	return reserve, nil
}

// AuditOne fetches the escrow balance for one challenge and audits it.
func (a *Auditor) AuditOne(ctx context.Context, challenge *Challenge) (AuditReport, error) {
	balance, err := a.EscrowBalance(ctx, challenge.PublicKey)
	if err != nil {
		return AuditReport{}, err
	}
	report := Audit(challenge, balance)
	report.Escrow = a.cfg.Program.EscrowAddress(challenge.PublicKey)
	return report, nil
}

// AuditAll audits every challenge with bounded concurrency. Reports keep the
// order of challenges.
func (a *Auditor) AuditAll(ctx context.Context, challenges []*Challenge) ([]AuditReport, error) {
	reserve, err := a.RentReserve(ctx)
	if err != nil {
		a.log.Warn("solstep/auditor: rent reserve unavailable", "error", err)
		reserve = 0
	}

	reports := make([]AuditReport, len(challenges))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for i, challenge := range challenges {
		g.Go(func() error {
			report, err := a.AuditOne(gctx, challenge)
			if err != nil {
				return err
			}
			report.Reserve = reserve
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, r := range reports {
		if r.Delta != 0 {
			a.log.Debug("solstep/auditor: escrow balance differs from expected stake", "challenge", r.Challenge.String(), "expected", r.Expected, "actual", r.Actual, "delta", r.Delta)
		}
	}
	return reports, nil
}
