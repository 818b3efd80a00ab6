package solstep_protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"solstep-cli/metrics"
)

// AccountsRPC is the subset of the RPC client the registry reads through.
type AccountsRPC interface {
	GetProgramAccountsWithOpts(ctx context.Context, publicKey solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error)
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
}

type RegistryConfig struct {
	Logger     *slog.Logger
	RPC        AccountsRPC
	Program    *Program
	Commitment rpc.CommitmentType
}

func (cfg *RegistryConfig) Validate() error {
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
	return nil
}

// Registry reads Challenge accounts from the ledger.
type Registry struct {
	log *slog.Logger
	cfg RegistryConfig
}

func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Registry{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// FetchAll returns every Challenge account owned by the program. Accounts that
// fail to decode are logged and skipped; only the RPC call itself can fail the
// batch.
func (r *Registry) FetchAll(ctx context.Context) ([]*Challenge, error) {
	resp, err := r.cfg.RPC.GetProgramAccountsWithOpts(
		ctx,
		r.cfg.Program.ID,
		&rpc.GetProgramAccountsOpts{
			Commitment: r.cfg.Commitment,
			Filters: []rpc.RPCFilter{
				{
					Memcmp: &rpc.RPCFilterMemcmp{
						Offset: 0,
						Bytes:  Account_Challenge[:],
					},
				},
			},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get program accounts: %v", ErrNetwork, err)
	}

	challenges := make([]*Challenge, 0, len(resp))
	for _, account := range resp {
		if account == nil || account.Account == nil || account.Account.Data == nil {
			r.dropped(solana.PublicKey{}, errors.New("empty account"))
			continue
		}
		if account.Account.Owner != r.cfg.Program.ID {
			r.dropped(account.Pubkey, fmt.Errorf("owner %s is not the program", account.Account.Owner))
			continue
		}
		challenge, err := ParseAccount_Challenge(account.Pubkey, account.Account.Data.GetBinary())
		if err != nil {
			r.dropped(account.Pubkey, err)
			continue
		}
		challenges = append(challenges, challenge)
	}

	metrics.RegistryAccountsFetched.Set(float64(len(challenges)))
	r.log.Debug("solstep/registry: fetched challenges", "decoded", len(challenges), "total", len(resp))
	return challenges, nil
}

// Fetch reads one Challenge account. A missing account returns rpc.ErrNotFound.
func (r *Registry) Fetch(ctx context.Context, address solana.PublicKey) (*Challenge, error) {
	resp, err := r.cfg.RPC.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
		Commitment: r.cfg.Commitment,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: failed to get challenge account %s: %v", ErrNetwork, address, err)
	}
	if resp == nil || resp.Value == nil || resp.Value.Data == nil {
		return nil, rpc.ErrNotFound
	}
	return ParseAccount_Challenge(address, resp.Value.Data.GetBinary())
}

// DecodeChallengeDump reads a JSON array of {publicKey, account} records as
// produced by upstream ledger clients. Address fields may be base58 strings,
// byte arrays or {pubkey} objects. Records that fail to decode are skipped.
func (r *Registry) DecodeChallengeDump(rd io.Reader) ([]*Challenge, error) {
	var records []json.RawMessage
	if err := json.NewDecoder(rd).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to read challenge dump: %w", err)
	}
	challenges := make([]*Challenge, 0, len(records))
	for i, record := range records {
		var entry challengeDumpEntry
		if err := json.Unmarshal(record, &entry); err != nil {
			r.dropped(solana.PublicKey{}, fmt.Errorf("%w: record %d: %v", ErrDecodeFailure, i, err))
			continue
		}
		challenge, err := decodeChallengeDumpEntry(&entry)
		if err != nil {
			key, _ := entry.PublicKey.Normalize()
			r.dropped(key, err)
			continue
		}
		challenges = append(challenges, challenge)
	}
	return challenges, nil
}

func (r *Registry) dropped(address solana.PublicKey, err error) {
	metrics.RegistryDecodeFailuresTotal.Inc()
	r.log.Warn("solstep/registry: skipping undecodable challenge account", "address", address.String(), "error", err)
}
