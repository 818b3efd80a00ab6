// Package ledgertest is an in-memory stand-in for the SolStep program and the
// RPC endpoints the client talks to.
package ledgertest

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/jonboulle/clockwork"

	solstep "solstep-cli/solana"
)

// RentReserve is the rent-exempt minimum for a zero-data account.
const RentReserve uint64 = 890_880

type account struct {
	lamports uint64
	owner    solana.PublicKey
	data     []byte
}

type challengeState struct {
	solstep.Challenge
	title    string
	bump     uint8
	escrow   bool
	settled  bool
	timedOut bool
}

type signatureStatus struct {
	slot    uint64
	err     any
	tx      *solana.Transaction
	pending bool
}

// Ledger holds accounts and program state. Its zero value is not usable; call New.
type Ledger struct {
	Program *solstep.Program
	Clock   clockwork.Clock

	mu         sync.Mutex
	accounts   map[solana.PublicKey]*account
	challenges map[solana.PublicKey]*challengeState
	statuses   map[solana.Signature]*signatureStatus
	history    map[solana.PublicKey][]solana.Signature
	slot       uint64
	blockhash  solana.Hash

	sendFailures      []error
	holdConfirmations bool
	subscriptionErr   error
	skipPreflight     bool
	leavePending      bool
	pendingOrder      []solana.Signature

	blockhashCalls int
	sendCalls      int
	statusCalls    int
}

func New(program *solstep.Program, clock clockwork.Clock) *Ledger {
	return &Ledger{
		Program:    program,
		Clock:      clock,
		accounts:   make(map[solana.PublicKey]*account),
		challenges: make(map[solana.PublicKey]*challengeState),
		statuses:   make(map[solana.Signature]*signatureStatus),
		history:    make(map[solana.PublicKey][]solana.Signature),
	}
}

// Fund credits lamports to a wallet.
func (l *Ledger) Fund(key solana.PublicKey, lamports uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accountFor(key).lamports += lamports
}

// PutAccount stores raw account data, bypassing the program.
func (l *Ledger) PutAccount(key, owner solana.PublicKey, lamports uint64, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[key] = &account{lamports: lamports, owner: owner, data: data}
}

func (l *Ledger) Balance(key solana.PublicKey) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok := l.accounts[key]; ok {
		return a.lamports
	}
	return 0
}

// FailNextSends makes the next len(errs) broadcasts fail with errs, in order.
func (l *Ledger) FailNextSends(errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sendFailures = append(l.sendFailures, errs...)
}

// HoldConfirmations keeps signature subscriptions from ever firing.
func (l *Ledger) HoldConfirmations(hold bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.holdConfirmations = hold
}

// FailSubscriptions makes signature subscriptions fail with err.
func (l *Ledger) FailSubscriptions(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscriptionErr = err
}

// SkipPreflight lands failing transactions instead of rejecting them at
// broadcast, so the failure is only visible through confirmation.
func (l *Ledger) SkipPreflight(skip bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.skipPreflight = skip
}

// LeavePending accepts transactions without ever processing them.
func (l *Ledger) LeavePending(pending bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.leavePending = pending
}

// LandPending executes every transaction left pending, in the order it was
// sent, and stops leaving new ones pending.
func (l *Ledger) LandPending() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.leavePending = false
	for _, sig := range l.pendingOrder {
		st := l.statuses[sig]
		l.slot++
		if err := l.execute(st.tx); err != nil {
			st.err = map[string]any{"InstructionError": []any{0, err.Error()}}
		}
		st.pending, st.slot = false, l.slot
		for _, key := range st.tx.Message.AccountKeys {
			l.history[key] = append(l.history[key], sig)
		}
	}
	l.pendingOrder = nil
}

// Calls reports how many times each submission endpoint was hit.
func (l *Ledger) Calls() (blockhash, send, status int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blockhashCalls, l.sendCalls, l.statusCalls
}

func (l *Ledger) accountFor(key solana.PublicKey) *account {
	a, ok := l.accounts[key]
	if !ok {
		a = &account{owner: solana.SystemProgramID}
		l.accounts[key] = a
	}
	return a
}

func (l *Ledger) GetLatestBlockhash(_ context.Context, _ rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blockhashCalls++
	l.slot++
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], l.slot)
	l.blockhash = solana.Hash(sha256.Sum256(seed[:]))
	return &rpc.GetLatestBlockhashResult{
		RPCContext: rpc.RPCContext{Context: rpc.Context{Slot: l.slot}},
		Value: &rpc.LatestBlockhashResult{
			Blockhash:            l.blockhash,
			LastValidBlockHeight: l.slot + 150,
		},
	}, nil
}

func (l *Ledger) SendTransactionWithOpts(_ context.Context, tx *solana.Transaction, _ rpc.TransactionOpts) (solana.Signature, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sendCalls++

	if len(l.sendFailures) > 0 {
		err := l.sendFailures[0]
		l.sendFailures = l.sendFailures[1:]
		return solana.Signature{}, err
	}
	if len(tx.Signatures) == 0 {
		return solana.Signature{}, preflight("transaction is not signed")
	}
	if err := tx.VerifySignatures(); err != nil {
		return solana.Signature{}, preflight(fmt.Sprintf("signature verification failed: %v", err))
	}
	sig := tx.Signatures[0]
	if _, seen := l.statuses[sig]; seen {
		// Resending an already processed transaction is a no-op.
		return sig, nil
	}

	if l.leavePending {
		l.statuses[sig] = &signatureStatus{pending: true, tx: tx}
		l.pendingOrder = append(l.pendingOrder, sig)
		return sig, nil
	}

	l.slot++
	execErr := l.execute(tx)
	if execErr != nil && !l.skipPreflight {
		return solana.Signature{}, preflight(execErr.Error())
	}
	status := &signatureStatus{slot: l.slot, tx: tx}
	if execErr != nil {
		status.err = map[string]any{"InstructionError": []any{0, execErr.Error()}}
	}
	l.statuses[sig] = status
	for _, key := range tx.Message.AccountKeys {
		l.history[key] = append(l.history[key], sig)
	}
	return sig, nil
}

func preflight(msg string) error {
	return &jsonrpc.RPCError{
		Code:    -32002,
		Message: "Transaction simulation failed: " + msg,
	}
}

func (l *Ledger) GetSignatureStatuses(_ context.Context, _ bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statusCalls++

	out := &rpc.GetSignatureStatusesResult{Value: make([]*rpc.SignatureStatusesResult, len(sigs))}
	for i, sig := range sigs {
		st, ok := l.statuses[sig]
		if !ok || st.pending {
			continue
		}
		out.Value[i] = &rpc.SignatureStatusesResult{
			Slot:               st.slot,
			Err:                st.err,
			ConfirmationStatus: rpc.ConfirmationStatusConfirmed,
		}
	}
	return out, nil
}

// AwaitSignature implements the confirmation subscription.
func (l *Ledger) AwaitSignature(ctx context.Context, sig solana.Signature) (any, error) {
	l.mu.Lock()
	hold, subErr := l.holdConfirmations, l.subscriptionErr
	st, ok := l.statuses[sig]
	l.mu.Unlock()

	if subErr != nil {
		return nil, subErr
	}
	if hold || !ok || st.pending {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return st.err, nil
}

func (l *Ledger) GetProgramAccountsWithOpts(_ context.Context, program solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out rpc.GetProgramAccountsResult
	for key, a := range l.accounts {
		if !a.owner.Equals(program) || !matchesFilters(a.data, opts) {
			continue
		}
		out = append(out, &rpc.KeyedAccount{
			Pubkey:  key,
			Account: rpcAccount(a),
		})
	}
	return out, nil
}

func matchesFilters(data []byte, opts *rpc.GetProgramAccountsOpts) bool {
	if opts == nil {
		return true
	}
	for _, f := range opts.Filters {
		if f.DataSize != 0 && uint64(len(data)) != f.DataSize {
			return false
		}
		if f.Memcmp == nil {
			continue
		}
		end := int(f.Memcmp.Offset) + len(f.Memcmp.Bytes)
		if end > len(data) {
			return false
		}
		for i, b := range f.Memcmp.Bytes {
			if data[int(f.Memcmp.Offset)+i] != b {
				return false
			}
		}
	}
	return true
}

func rpcAccount(a *account) *rpc.Account {
	data := make([]byte, len(a.data))
	copy(data, a.data)
	return &rpc.Account{
		Lamports: a.lamports,
		Owner:    a.owner,
		Data:     rpc.DataBytesOrJSONFromBytes(data),
	}
}

func (l *Ledger) GetAccountInfoWithOpts(_ context.Context, key solana.PublicKey, _ *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accounts[key]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{Value: rpcAccount(a)}, nil
}

func (l *Ledger) GetBalance(_ context.Context, key solana.PublicKey, _ rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var lamports uint64
	if a, ok := l.accounts[key]; ok {
		lamports = a.lamports
	}
	return &rpc.GetBalanceResult{Value: lamports}, nil
}

func (l *Ledger) GetMinimumBalanceForRentExemption(_ context.Context, dataSize uint64, _ rpc.CommitmentType) (uint64, error) {
	if dataSize != 0 {
		return 0, errors.New("ledgertest only models zero-data rent")
	}
	return RentReserve, nil
}

func (l *Ledger) GetSignaturesForAddressWithOpts(_ context.Context, key solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sigs := l.history[key]
	out := make([]*rpc.TransactionSignature, 0, len(sigs))
	// Newest first, like the real endpoint.
	for i := len(sigs) - 1; i >= 0; i-- {
		st := l.statuses[sigs[i]]
		out = append(out, &rpc.TransactionSignature{
			Signature: sigs[i],
			Slot:      st.slot,
			Err:       st.err,
		})
		if opts != nil && opts.Limit != nil && len(out) >= *opts.Limit {
			break
		}
	}
	return out, nil
}

func (l *Ledger) GetTransaction(_ context.Context, sig solana.Signature, _ *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	l.mu.Lock()
	st, ok := l.statuses[sig]
	l.mu.Unlock()
	if !ok || st.pending {
		return nil, rpc.ErrNotFound
	}

	raw, err := st.tx.MarshalBinary()
	if err != nil {
		return nil, err
	}
	envelopeJSON, err := json.Marshal([]string{base64.StdEncoding.EncodeToString(raw), "base64"})
	if err != nil {
		return nil, err
	}
	var envelope rpc.TransactionResultEnvelope
	if err := json.Unmarshal(envelopeJSON, &envelope); err != nil {
		return nil, err
	}
	blockTime := solana.UnixTimeSeconds(l.Clock.Now().Unix())
	return &rpc.GetTransactionResult{
		Slot:        st.slot,
		BlockTime:   &blockTime,
		Transaction: &envelope,
		Meta:        &rpc.TransactionMeta{Err: st.err},
	}, nil
}
