package solstep_protocol

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/sync/errgroup"
)

// ActivityEvent is one program instruction that touched a challenge.
type ActivityEvent struct {
	Signature   solana.Signature `json:"signature"`
	Timestamp   time.Time        `json:"timestamp"`
	Slot        uint64           `json:"slot"`
	Instruction string           `json:"instruction"`
	Signer      solana.PublicKey `json:"signer"`
	Failed      bool             `json:"failed"`
}

// ActivityRPC is the subset of the RPC client used to read transaction history.
type ActivityRPC interface {
	GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error)
	GetTransaction(ctx context.Context, txSig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
}

// activityBatchSize bounds concurrent getTransaction calls.
const activityBatchSize = 10

// ChallengeActivity lists the program instructions recorded against a
// challenge address, oldest first. limit caps the number of signatures read.
func ChallengeActivity(ctx context.Context, log *slog.Logger, client ActivityRPC, program *Program, challenge solana.PublicKey, limit int) ([]ActivityEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000 // Maximum allowed by Solana RPC
	}
	signatures, err := client.GetSignaturesForAddressWithOpts(ctx, challenge, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch transaction signatures: %v", ErrNetwork, err)
	}

	var (
		mu     sync.Mutex
		events []ActivityEvent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(activityBatchSize)
	for _, sigInfo := range signatures {
		if sigInfo == nil {
			continue
		}
		g.Go(func() error {
			version := uint64(0)
			tx, err := client.GetTransaction(gctx, sigInfo.Signature, &rpc.GetTransactionOpts{
				Encoding:                       solana.EncodingBase64,
				Commitment:                     rpc.CommitmentConfirmed,
				MaxSupportedTransactionVersion: &version,
			})
			if err != nil {
				// One missing transaction should not hide the rest.
				log.Warn("solstep/activity: failed to fetch transaction", "signature", sigInfo.Signature.String(), "error", err)
				return nil
			}
			parsed := parseActivity(tx, program, sigInfo)
			mu.Lock()
			events = append(events, parsed...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Slot != events[j].Slot {
			return events[i].Slot < events[j].Slot
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

func parseActivity(tx *rpc.GetTransactionResult, program *Program, sigInfo *rpc.TransactionSignature) []ActivityEvent {
	if tx == nil || tx.Transaction == nil {
		return nil
	}
	decoded, err := tx.Transaction.GetTransaction()
	if err != nil || decoded == nil {
		return nil
	}

	var timestamp time.Time
	if tx.BlockTime != nil {
		timestamp = tx.BlockTime.Time()
	}
	failed := sigInfo.Err != nil || (tx.Meta != nil && tx.Meta.Err != nil)

	var signer solana.PublicKey
	if len(decoded.Message.AccountKeys) > 0 {
		signer = decoded.Message.AccountKeys[0]
	}

	var events []ActivityEvent
	for _, ix := range decoded.Message.Instructions {
		if int(ix.ProgramIDIndex) >= len(decoded.Message.AccountKeys) {
			continue
		}
		if !decoded.Message.AccountKeys[ix.ProgramIDIndex].Equals(program.ID) {
			continue
		}
		events = append(events, ActivityEvent{
			Signature:   sigInfo.Signature,
			Timestamp:   timestamp,
			Slot:        tx.Slot,
			Instruction: InstructionName(ix.Data),
			Signer:      signer,
			Failed:      failed,
		})
	}
	return events
}
