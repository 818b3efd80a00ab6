package reconcile

import (
	"bytes"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	solstep "solstep-cli/solana"
	"solstep-cli/storage"
	solsteptesting "solstep-cli/utils/testing"
)

var testStart = time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)

func testSpots() []string {
	spots := make([]string, storage.SpotCount)
	for i := range spots {
		spots[i] = fmt.Sprintf("spot-%02d", i)
	}
	return spots
}

type fixture struct {
	organizer solana.PublicKey
	challenge *solstep.Challenge
	metadata  *storage.ChallengeMetadata
}

func newFixture(participants ...solana.PublicKey) *fixture {
	organizer := solana.NewWallet().PublicKey()
	c := &solstep.Challenge{
		PublicKey:        solana.NewWallet().PublicKey(),
		Organizer:        organizer,
		StakeAmount:      100,
		StartTs:          testStart.Unix(),
		EndTs:            testStart.Add(2 * time.Hour).Unix(),
		MaxParticipants:  4,
		ParticipantCount: uint32(len(participants)),
		TotalStake:       100 * uint64(len(participants)),
		Participants:     participants,
	}
	return &fixture{
		organizer: organizer,
		challenge: c,
		metadata: &storage.ChallengeMetadata{
			Challenge:       c.PublicKey.String(),
			Title:           "Old town loop",
			Spots:           testSpots(),
			Organizer:       organizer.String(),
			CreatedAt:       testStart,
			StartTs:         c.StartTs,
			EndTs:           c.EndTs,
			MaxParticipants: c.MaxParticipants,
			StakeAmount:     0.0000001,
			Type:            storage.ChallengeType,
			Status:          storage.StatusActive,
		},
	}
}

// endAt moves the deadline of the ledger record and its metadata together.
func (f *fixture) endAt(end time.Time) {
	f.challenge.EndTs = end.Unix()
	f.metadata.EndTs = end.Unix()
}

func completed(challenge string, p solana.PublicKey, at time.Time) storage.ParticipantProgress {
	return storage.ParticipantProgress{
		Challenge:     challenge,
		Participant:   p.String(),
		SpotsCaptured: testSpots(),
		CompletedAt:   &at,
	}
}

func newEngine(t *testing.T, store Store, clock clockwork.Clock) *Engine {
	t.Helper()
	e, err := NewEngine(EngineConfig{
		Logger: solsteptesting.NewLogger(),
		Store:  store,
		Clock:  clock,
	})
	require.NoError(t, err)
	return e
}

func newJSONStore(t *testing.T) *storage.JSONDB {
	t.Helper()
	db, err := storage.Connect(filepath.Join(t.TempDir(), "solstep.json"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSolstep_Reconcile_StatusOrder(t *testing.T) {
	t.Parallel()

	alice := solana.NewWallet().PublicKey()
	before := testStart.Add(time.Hour)
	after := testStart.Add(3 * time.Hour)

	t.Run("active before deadline", func(t *testing.T) {
		t.Parallel()
		f := newFixture(alice)
		v := Reconcile(before, f.challenge, f.metadata, nil)
		require.Equal(t, StatusActive, v.Status)
		require.NotNil(t, v.Progress)
	})

	t.Run("timed out at the deadline", func(t *testing.T) {
		t.Parallel()
		f := newFixture(alice)
		v := Reconcile(time.Unix(f.challenge.EndTs, 0), f.challenge, f.metadata, nil)
		require.Equal(t, StatusTimedOut, v.Status)
	})

	t.Run("finalized wins over deadline", func(t *testing.T) {
		t.Parallel()
		f := newFixture(alice)
		f.challenge.IsFinalized = true
		require.Equal(t, StatusCompleted, Reconcile(after, f.challenge, f.metadata, nil).Status)
		require.Equal(t, StatusCompleted, Reconcile(before, f.challenge, f.metadata, nil).Status)
	})

	t.Run("designated winner wins over everything", func(t *testing.T) {
		t.Parallel()
		f := newFixture(alice)
		f.metadata.Winner = alice.String()
		v := Reconcile(after, f.challenge, f.metadata, nil)
		require.Equal(t, StatusCompleted, v.Status)
		require.True(t, v.Winner.Equals(alice))
	})

	t.Run("missing metadata still reconciles", func(t *testing.T) {
		t.Parallel()
		f := newFixture(alice)
		v := Reconcile(before, f.challenge, nil, nil)
		require.Equal(t, StatusActive, v.Status)
		require.Equal(t, f.challenge.PublicKey.String(), v.Title())
		require.True(t, v.Candidate.IsZero())
	})

	t.Run("records of an earlier challenge at the address are ignored", func(t *testing.T) {
		t.Parallel()
		f := newFixture(alice)
		f.metadata.Winner = alice.String()
		f.metadata.StartTs = testStart.Add(-48 * time.Hour).Unix()
		progress := map[string]storage.ParticipantProgress{
			alice.String(): completed(f.challenge.PublicKey.String(), alice, testStart),
		}
		v := Reconcile(before, f.challenge, f.metadata, progress)
		require.Equal(t, StatusActive, v.Status)
		require.False(t, v.HasWinner())
		require.Nil(t, v.Metadata)
		require.Empty(t, v.Progress)
		require.True(t, v.Candidate.IsZero())
	})

	t.Run("invalid winner is ignored", func(t *testing.T) {
		t.Parallel()
		f := newFixture(alice)
		f.metadata.Winner = "not-a-key"
		v := Reconcile(before, f.challenge, f.metadata, nil)
		require.Equal(t, StatusActive, v.Status)
		require.False(t, v.HasWinner())
	})

	t.Run("status strings", func(t *testing.T) {
		t.Parallel()
		require.Equal(t, "active", StatusActive.String())
		require.Equal(t, "completed", StatusCompleted.String())
		require.Equal(t, "timed_out", StatusTimedOut.String())
	})
}

func TestSolstep_Reconcile_WinnerCandidate(t *testing.T) {
	t.Parallel()

	a := solana.NewWallet().PublicKey()
	b := solana.NewWallet().PublicKey()
	outsider := solana.NewWallet().PublicKey()
	now := testStart.Add(time.Hour)

	t.Run("earliest completion", func(t *testing.T) {
		t.Parallel()
		f := newFixture(a, b)
		ch := f.challenge.PublicKey.String()
		progress := map[string]storage.ParticipantProgress{
			a.String(): completed(ch, a, testStart.Add(40*time.Minute)),
			b.String(): completed(ch, b, testStart.Add(30*time.Minute)),
		}
		v := Reconcile(now, f.challenge, f.metadata, progress)
		require.True(t, v.Candidate.Equals(b))
		w, ok := WinnerOf(v)
		require.True(t, ok)
		require.True(t, w.Equals(b))
	})

	t.Run("tie goes to smallest id", func(t *testing.T) {
		t.Parallel()
		f := newFixture(a, b)
		ch := f.challenge.PublicKey.String()
		at := testStart.Add(30 * time.Minute)
		progress := map[string]storage.ParticipantProgress{
			a.String(): completed(ch, a, at),
			b.String(): completed(ch, b, at),
		}
		want := a
		if b.String() < a.String() {
			want = b
		}
		v := Reconcile(now, f.challenge, f.metadata, progress)
		require.True(t, v.Candidate.Equals(want))
	})

	t.Run("ignores outsiders and partial records", func(t *testing.T) {
		t.Parallel()
		f := newFixture(a, b)
		ch := f.challenge.PublicKey.String()
		partial := completed(ch, a, testStart)
		partial.SpotsCaptured = partial.SpotsCaptured[:9]
		progress := map[string]storage.ParticipantProgress{
			a.String():        partial,
			outsider.String(): completed(ch, outsider, testStart),
		}
		v := Reconcile(now, f.challenge, f.metadata, progress)
		require.True(t, v.Candidate.IsZero())
		_, ok := WinnerOf(v)
		require.False(t, ok)
	})

	t.Run("designated winner is authoritative", func(t *testing.T) {
		t.Parallel()
		f := newFixture(a, b)
		ch := f.challenge.PublicKey.String()
		f.metadata.Winner = a.String()
		progress := map[string]storage.ParticipantProgress{
			b.String(): completed(ch, b, testStart),
		}
		v := Reconcile(now, f.challenge, f.metadata, progress)
		w, ok := WinnerOf(v)
		require.True(t, ok)
		require.True(t, w.Equals(a))
	})
}

func TestSolstep_Reconcile_EngineWarnings(t *testing.T) {
	t.Parallel()

	alice := solana.NewWallet().PublicKey()
	newLoggedEngine := func(t *testing.T) (*Engine, *bytes.Buffer) {
		var buf bytes.Buffer
		e, err := NewEngine(EngineConfig{
			Logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})),
			Store:  newJSONStore(t),
			Clock:  clockwork.NewFakeClockAt(testStart.Add(time.Hour)),
		})
		require.NoError(t, err)
		return e, &buf
	}

	t.Run("invalid winner", func(t *testing.T) {
		t.Parallel()
		e, buf := newLoggedEngine(t)
		f := newFixture(alice)
		f.metadata.Winner = "not-a-key"
		v := e.Reconcile(f.challenge, f.metadata, nil)
		require.False(t, v.HasWinner())
		require.Contains(t, buf.String(), "ignoring invalid winner")
		require.Contains(t, buf.String(), "not-a-key")
	})

	t.Run("stale records", func(t *testing.T) {
		t.Parallel()
		e, buf := newLoggedEngine(t)
		f := newFixture(alice)
		f.metadata.EndTs++
		v := e.Reconcile(f.challenge, f.metadata, nil)
		require.Nil(t, v.Metadata)
		require.Contains(t, buf.String(), "earlier challenge at this address")
	})

	t.Run("valid winner is quiet", func(t *testing.T) {
		t.Parallel()
		e, buf := newLoggedEngine(t)
		f := newFixture(alice)
		f.metadata.Winner = alice.String()
		v := e.Reconcile(f.challenge, f.metadata, nil)
		require.True(t, v.HasWinner())
		require.Empty(t, buf.String())
	})
}
