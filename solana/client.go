package solstep_protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"github.com/jonboulle/clockwork"
)

// LedgerRPC is everything the client reads from or sends to the ledger.
// *rpc.Client satisfies it.
type LedgerRPC interface {
	AccountsRPC
	SubmitRPC
	BalanceRPC
	ActivityRPC
}

type ClientConfig struct {
	Logger     *slog.Logger
	ProgramID  solana.PublicKey
	Commitment rpc.CommitmentType
	Clock      clockwork.Clock

	// RPCEndpoint and WSEndpoint are dialed when RPC and Confirmer are nil.
	RPCEndpoint string
	WSEndpoint  string
	RPC         LedgerRPC
	Confirmer   Confirmer
}

func (cfg *ClientConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ProgramID.IsZero() {
		return ErrProgramUninitialized
	}
	if cfg.RPC == nil && cfg.RPCEndpoint == "" {
		return errors.New("rpc endpoint is required")
	}
	if cfg.Confirmer == nil && cfg.WSEndpoint == "" {
		return errors.New("websocket endpoint is required")
	}
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Client is a client for the SolStep challenge program.
type Client struct {
	RPC       LedgerRPC
	Program   *Program
	Registry  *Registry
	Submitter *Submitter
	Auditor   *Auditor

	log       *slog.Logger
	confirmer Confirmer
}

// NewClient wires the registry, submitter and auditor against one RPC backend.
func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	program, err := NewProgram(cfg.ProgramID)
	if err != nil {
		return nil, err
	}

	rpcClient := cfg.RPC
	if rpcClient == nil {
		rpcClient = rpc.New(cfg.RPCEndpoint)
	}
	confirmer := cfg.Confirmer
	if confirmer == nil {
		confirmer = &lazyWSConfirmer{endpoint: cfg.WSEndpoint, commitment: cfg.Commitment}
	}

	registry, err := NewRegistry(RegistryConfig{
		Logger:     cfg.Logger,
		RPC:        rpcClient,
		Program:    program,
		Commitment: cfg.Commitment,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}
	submitter, err := NewSubmitter(SubmitterConfig{
		Logger:     cfg.Logger,
		RPC:        rpcClient,
		Confirmer:  confirmer,
		Commitment: cfg.Commitment,
		Clock:      cfg.Clock,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create submitter: %w", err)
	}
	auditor, err := NewAuditor(AuditorConfig{
		Logger:     cfg.Logger,
		RPC:        rpcClient,
		Program:    program,
		Commitment: cfg.Commitment,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create auditor: %w", err)
	}

	return &Client{
		RPC:       rpcClient,
		Program:   program,
		Registry:  registry,
		Submitter: submitter,
		Auditor:   auditor,
		log:       cfg.Logger,
		confirmer: confirmer,
	}, nil
}

// Close releases the websocket connection, if one was opened.
func (c *Client) Close() {
	if closer, ok := c.confirmer.(interface{ Close() }); ok {
		closer.Close()
	}
}

// CreateChallenge creates the signer's challenge account. The organizer in
// args is always the signer.
func (c *Client) CreateChallenge(ctx context.Context, signer SigningContext, args CreateChallengeArgs) (solana.PublicKey, Result, error) {
	if MissingSigner(signer) {
		return solana.PublicKey{}, Result{Outcome: OutcomeRejected}, ErrWalletNotConnected
	}
	args.Organizer = signer.PublicKey()
	ix, err := c.Program.NewCreateChallengeInstruction(args)
	if err != nil {
		return solana.PublicKey{}, Result{Outcome: OutcomeRejected}, err
	}
	challenge, _, err := c.Program.GetChallengePDA(args.Organizer)
	if err != nil {
		return solana.PublicKey{}, Result{Outcome: OutcomeRejected}, err
	}
	res, err := c.Submitter.Submit(ctx, ix, signer)
	return challenge, res, err
}

// InitEscrow creates the escrow account for the signer's challenge.
func (c *Client) InitEscrow(ctx context.Context, signer SigningContext, challenge solana.PublicKey) (Result, error) {
	return c.submit(ctx, signer, func(self solana.PublicKey) (*solana.GenericInstruction, error) {
		return c.Program.NewInitEscrowInstruction(self, challenge)
	})
}

// JoinChallenge stakes the signer into the challenge.
func (c *Client) JoinChallenge(ctx context.Context, signer SigningContext, challenge solana.PublicKey) (Result, error) {
	return c.submit(ctx, signer, func(self solana.PublicKey) (*solana.GenericInstruction, error) {
		return c.Program.NewJoinChallengeInstruction(self, challenge)
	})
}

func (c *Client) FinalizeChallenge(ctx context.Context, signer SigningContext, challenge solana.PublicKey) (Result, error) {
	return c.submit(ctx, signer, func(self solana.PublicKey) (*solana.GenericInstruction, error) {
		return c.Program.NewFinalizeChallengeInstruction(self, challenge)
	})
}

// SettleChallenge pays the escrow out to winner. The program takes exactly
// one loser regardless of how many participants joined.
func (c *Client) SettleChallenge(ctx context.Context, signer SigningContext, challenge, winner, loser solana.PublicKey) (Result, error) {
	return c.submit(ctx, signer, func(self solana.PublicKey) (*solana.GenericInstruction, error) {
		return c.Program.NewSettleChallengeInstruction(self, winner, loser, challenge)
	})
}

// TimeoutChallenge refunds an expired, unfinalized challenge. Any wallet may
// sign.
func (c *Client) TimeoutChallenge(ctx context.Context, signer SigningContext, challenge, organizer solana.PublicKey) (Result, error) {
	return c.submit(ctx, signer, func(self solana.PublicKey) (*solana.GenericInstruction, error) {
		return c.Program.NewTimeoutChallengeInstruction(self, challenge, organizer)
	})
}

func (c *Client) CloseChallenge(ctx context.Context, signer SigningContext, challenge solana.PublicKey) (Result, error) {
	return c.submit(ctx, signer, func(self solana.PublicKey) (*solana.GenericInstruction, error) {
		return c.Program.NewCloseChallengeInstruction(self, challenge)
	})
}

func (c *Client) submit(ctx context.Context, signer SigningContext, build func(self solana.PublicKey) (*solana.GenericInstruction, error)) (Result, error) {
	if MissingSigner(signer) {
		return Result{Outcome: OutcomeRejected}, ErrWalletNotConnected
	}
	ix, err := build(signer.PublicKey())
	if err != nil {
		return Result{Outcome: OutcomeRejected}, err
	}
	return c.Submitter.Submit(ctx, ix, signer)
}

// GetBalance fetches the lamport balance of an account.
func (c *Client) GetBalance(ctx context.Context, publicKey solana.PublicKey) (uint64, error) {
	resp, err := c.RPC.GetBalance(ctx, publicKey, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to get balance: %v", ErrNetwork, err)
	}
	return resp.Value, nil
}

// Activity lists the program instructions recorded against a challenge.
func (c *Client) Activity(ctx context.Context, challenge solana.PublicKey, limit int) ([]ActivityEvent, error) {
	return ChallengeActivity(ctx, c.log, c.RPC, c.Program, challenge, limit)
}

// lazyWSConfirmer dials the websocket endpoint on first use, so read-only
// commands never open a connection.
type lazyWSConfirmer struct {
	endpoint   string
	commitment rpc.CommitmentType

	mu     sync.Mutex
	client *ws.Client
}

func (c *lazyWSConfirmer) AwaitSignature(ctx context.Context, sig solana.Signature) (any, error) {
	c.mu.Lock()
	if c.client == nil {
		client, err := ws.Connect(ctx, c.endpoint)
		if err != nil {
			c.mu.Unlock()
			return nil, fmt.Errorf("failed to connect to %s: %w", c.endpoint, err)
		}
		c.client = client
	}
	client := c.client
	c.mu.Unlock()

	confirmer := &WSConfirmer{Client: client, Commitment: c.commitment}
	return confirmer.AwaitSignature(ctx, sig)
}

func (c *lazyWSConfirmer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}
