package reconcile

import (
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"solstep-cli/storage"
)

func TestSolstep_Reconcile_CanSettle(t *testing.T) {
	t.Parallel()

	a := solana.NewWallet().PublicKey()
	b := solana.NewWallet().PublicKey()
	c := solana.NewWallet().PublicKey()
	during := testStart.Add(time.Hour)

	finalized := func(participants ...solana.PublicKey) (*fixture, View) {
		f := newFixture(participants...)
		f.challenge.IsFinalized = true
		ch := f.challenge.PublicKey.String()
		progress := map[string]storage.ParticipantProgress{
			participants[0].String(): completed(ch, participants[0], testStart.Add(30*time.Minute)),
		}
		return f, Reconcile(during, f.challenge, f.metadata, progress)
	}

	t.Run("organizer settles with the policy winner", func(t *testing.T) {
		t.Parallel()
		f, v := finalized(a, b)
		s, err := CanSettle(v, f.organizer, solana.PublicKey{})
		require.NoError(t, err)
		require.True(t, s.Winner.Equals(a))
		require.True(t, s.Loser.Equals(b))
		require.False(t, s.HasUnrewarded())
	})

	t.Run("non-organizer is unauthorized", func(t *testing.T) {
		t.Parallel()
		_, v := finalized(a, b)
		_, err := CanSettle(v, a, a)
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("single participant has no opponent", func(t *testing.T) {
		t.Parallel()
		f, v := finalized(a)
		_, err := CanSettle(v, f.organizer, a)
		require.ErrorIs(t, err, ErrNoOpponent)
	})

	t.Run("extra participants are flagged", func(t *testing.T) {
		t.Parallel()
		f, v := finalized(a, b, c)
		s, err := CanSettle(v, f.organizer, b)
		require.NoError(t, err)
		require.True(t, s.Winner.Equals(b))
		require.True(t, s.Loser.Equals(a))
		require.Equal(t, []solana.PublicKey{c}, s.UnrewardedParticipants)
		require.True(t, s.HasUnrewarded())
	})

	t.Run("winner must be a participant", func(t *testing.T) {
		t.Parallel()
		f, v := finalized(a, b)
		_, err := CanSettle(v, f.organizer, c)
		require.ErrorIs(t, err, ErrNotParticipant)
	})

	t.Run("active challenge without a designated winner", func(t *testing.T) {
		t.Parallel()
		f := newFixture(a, b)
		ch := f.challenge.PublicKey.String()
		progress := map[string]storage.ParticipantProgress{
			a.String(): completed(ch, a, testStart.Add(30*time.Minute)),
		}
		v := Reconcile(during, f.challenge, f.metadata, progress)
		require.Equal(t, StatusActive, v.Status)

		_, err := CanSettle(v, f.organizer, solana.PublicKey{})
		require.ErrorIs(t, err, ErrNotSettleable)

		s, err := CanSettle(v, f.organizer, a)
		require.NoError(t, err)
		require.True(t, s.Loser.Equals(b))
	})

	t.Run("no winner determined", func(t *testing.T) {
		t.Parallel()
		f := newFixture(a, b)
		f.challenge.IsFinalized = true
		v := Reconcile(during, f.challenge, f.metadata, nil)
		_, err := CanSettle(v, f.organizer, solana.PublicKey{})
		require.ErrorIs(t, err, ErrNotSettleable)
	})

	t.Run("conflicts with the recorded winner", func(t *testing.T) {
		t.Parallel()
		f := newFixture(a, b)
		f.metadata.Winner = a.String()
		v := Reconcile(during, f.challenge, f.metadata, nil)

		_, err := CanSettle(v, f.organizer, b)
		require.ErrorIs(t, err, ErrNotSettleable)

		s, err := CanSettle(v, f.organizer, solana.PublicKey{})
		require.NoError(t, err)
		require.True(t, s.Winner.Equals(a))
	})
}
