package solstep_protocol_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	solstep "solstep-cli/solana"
	"solstep-cli/solana/ledgertest"
	solsteptesting "solstep-cli/utils/testing"
)

type submitFixture struct {
	ledger    *ledgertest.Ledger
	submitter *solstep.Submitter
	wallet    *solstep.Wallet
	ix        *solana.GenericInstruction
}

func newSubmitFixture(t *testing.T, clock clockwork.Clock) *submitFixture {
	t.Helper()
	ledger := ledgertest.New(solstep.DefaultProgram, clock)
	submitter, err := solstep.NewSubmitter(solstep.SubmitterConfig{
		Logger:    solsteptesting.NewLogger(),
		RPC:       ledger,
		Confirmer: ledger,
		Clock:     clock,
	})
	require.NoError(t, err)

	wallet := &solstep.Wallet{PrivateKey: solana.NewWallet().PrivateKey}
	ix, err := solstep.DefaultProgram.NewCreateChallengeInstruction(solstep.CreateChallengeArgs{
		Organizer:       wallet.PublicKey(),
		Title:           "Harbour Run",
		StakeAmount:     100,
		StartTs:         clock.Now().Unix(),
		EndTs:           clock.Now().Add(time.Hour).Unix(),
		MaxParticipants: 4,
	})
	require.NoError(t, err)
	return &submitFixture{ledger: ledger, submitter: submitter, wallet: wallet, ix: ix}
}

// submitAsync runs Submit in the background so the test can drive the fake clock.
func (f *submitFixture) submitAsync(ctx context.Context) <-chan submitResult {
	ch := make(chan submitResult, 1)
	go func() {
		res, err := f.submitter.Submit(ctx, f.ix, f.wallet)
		ch <- submitResult{res, err}
	}()
	return ch
}

type submitResult struct {
	res solstep.Result
	err error
}

func advancePastTimeout(t *testing.T, ctx context.Context, clock *clockwork.FakeClock) {
	t.Helper()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(solstep.ConfirmationTimeout)
}

func TestSolstep_Submitter_Submit(t *testing.T) {
	t.Parallel()

	t.Run("confirmed by subscription", func(t *testing.T) {
		t.Parallel()
		f := newSubmitFixture(t, clockwork.NewRealClock())

		res, err := f.submitter.Submit(context.Background(), f.ix, f.wallet)
		require.NoError(t, err)
		require.Equal(t, solstep.OutcomeConfirmed, res.Outcome)
		require.False(t, res.Signature.IsZero())

		blockhash, send, status := f.ledger.Calls()
		require.Equal(t, 1, blockhash)
		require.Equal(t, 1, send)
		require.Equal(t, 0, status)

		_, ok := f.ledger.Challenge(solstep.DefaultProgram.ChallengeAddress(f.wallet.PublicKey()))
		require.True(t, ok)
	})

	t.Run("preflight rejection is not resent", func(t *testing.T) {
		t.Parallel()
		f := newSubmitFixture(t, clockwork.NewRealClock())
		_, err := f.submitter.Submit(context.Background(), f.ix, f.wallet)
		require.NoError(t, err)

		res, err := f.submitter.Submit(context.Background(), f.ix, f.wallet)
		require.ErrorIs(t, err, solstep.ErrLedgerRejected)
		require.Equal(t, solstep.OutcomeRejected, res.Outcome)

		var rejected *solstep.LedgerRejectedError
		require.True(t, errors.As(err, &rejected))
		require.Contains(t, rejected.Reason, "already in use")

		_, send, _ := f.ledger.Calls()
		require.Equal(t, 2, send)
	})

	t.Run("rejected by subscription", func(t *testing.T) {
		t.Parallel()
		f := newSubmitFixture(t, clockwork.NewRealClock())
		_, err := f.submitter.Submit(context.Background(), f.ix, f.wallet)
		require.NoError(t, err)

		f.ledger.SkipPreflight(true)
		res, err := f.submitter.Submit(context.Background(), f.ix, f.wallet)
		require.ErrorIs(t, err, solstep.ErrLedgerRejected)
		require.Equal(t, solstep.OutcomeRejected, res.Outcome)
		require.NotEmpty(t, res.Reason)
	})

	t.Run("timeout then poll reports success", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		clock := clockwork.NewFakeClock()
		f := newSubmitFixture(t, clock)
		f.ledger.HoldConfirmations(true)

		done := f.submitAsync(ctx)
		advancePastTimeout(t, ctx, clock)
		got := <-done

		require.NoError(t, got.err)
		require.Equal(t, solstep.OutcomeConfirmed, got.res.Outcome)
		_, _, status := f.ledger.Calls()
		require.Equal(t, 1, status)
	})

	t.Run("timeout then poll reports failure", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		clock := clockwork.NewFakeClock()
		f := newSubmitFixture(t, clock)
		_, err := f.submitter.Submit(ctx, f.ix, f.wallet)
		require.NoError(t, err)

		f.ledger.SkipPreflight(true)
		f.ledger.HoldConfirmations(true)
		done := f.submitAsync(ctx)
		advancePastTimeout(t, ctx, clock)
		got := <-done

		require.ErrorIs(t, got.err, solstep.ErrLedgerRejected)
		require.Equal(t, solstep.OutcomeRejected, got.res.Outcome)
	})

	t.Run("timeout while still pending is a soft failure", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		clock := clockwork.NewFakeClock()
		f := newSubmitFixture(t, clock)
		f.ledger.LeavePending(true)

		done := f.submitAsync(ctx)
		advancePastTimeout(t, ctx, clock)
		got := <-done

		require.ErrorIs(t, got.err, solstep.ErrConfirmationTimeout)
		require.NotErrorIs(t, got.err, solstep.ErrLedgerRejected)
		require.Equal(t, solstep.OutcomeUnknown, got.res.Outcome)
		require.False(t, got.res.Signature.IsZero())

		_, _, status := f.ledger.Calls()
		require.Equal(t, 1, status)
	})

	t.Run("subscription failure falls back to one poll", func(t *testing.T) {
		t.Parallel()
		f := newSubmitFixture(t, clockwork.NewFakeClock())
		f.ledger.FailSubscriptions(errors.New("websocket closed"))

		res, err := f.submitter.Submit(context.Background(), f.ix, f.wallet)
		require.NoError(t, err)
		require.Equal(t, solstep.OutcomeConfirmed, res.Outcome)
		_, _, status := f.ledger.Calls()
		require.Equal(t, 1, status)
	})

	t.Run("transport errors resend the same transaction", func(t *testing.T) {
		t.Parallel()
		f := newSubmitFixture(t, clockwork.NewRealClock())
		f.ledger.FailNextSends(errors.New("connection reset by peer"), errors.New("503 service unavailable"))

		res, err := f.submitter.Submit(context.Background(), f.ix, f.wallet)
		require.NoError(t, err)
		require.Equal(t, solstep.OutcomeConfirmed, res.Outcome)

		blockhash, send, _ := f.ledger.Calls()
		require.Equal(t, 1, blockhash)
		require.Equal(t, 3, send)
	})

	t.Run("resends are capped", func(t *testing.T) {
		t.Parallel()
		f := newSubmitFixture(t, clockwork.NewRealClock())
		f.ledger.FailNextSends(
			errors.New("connection reset by peer"),
			errors.New("connection reset by peer"),
			errors.New("connection reset by peer"),
			errors.New("connection reset by peer"),
		)

		res, err := f.submitter.Submit(context.Background(), f.ix, f.wallet)
		require.ErrorIs(t, err, solstep.ErrNetwork)
		require.Equal(t, solstep.OutcomeUnknown, res.Outcome)
		_, send, _ := f.ledger.Calls()
		require.Equal(t, solstep.MaxSendAttempts, send)
	})

	t.Run("no wallet", func(t *testing.T) {
		t.Parallel()
		f := newSubmitFixture(t, clockwork.NewRealClock())
		_, err := f.submitter.Submit(context.Background(), f.ix, nil)
		require.ErrorIs(t, err, solstep.ErrWalletNotConnected)
		blockhash, _, _ := f.ledger.Calls()
		require.Equal(t, 0, blockhash)

		var unset *solstep.Wallet
		_, err = f.submitter.Submit(context.Background(), f.ix, unset)
		require.ErrorIs(t, err, solstep.ErrWalletNotConnected)
	})

	t.Run("watch-only wallet cannot sign", func(t *testing.T) {
		t.Parallel()
		f := newSubmitFixture(t, clockwork.NewRealClock())
		_, err := f.submitter.Submit(context.Background(), f.ix, solstep.WatchOnly(f.wallet.PublicKey()))
		require.ErrorIs(t, err, solstep.ErrSigningUnavailable)
		_, send, _ := f.ledger.Calls()
		require.Equal(t, 0, send)
	})
}

func TestSolstep_Submitter_Outcome(t *testing.T) {
	t.Parallel()

	require.Equal(t, "confirmed", solstep.OutcomeConfirmed.String())
	require.Equal(t, "rejected", solstep.OutcomeRejected.String())
	require.Equal(t, "unknown", solstep.OutcomeUnknown.String())
}
