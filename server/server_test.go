package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"solstep-cli/challenge"
	solstep "solstep-cli/solana"
	"solstep-cli/solana/ledgertest"
	"solstep-cli/storage"
	solsteptesting "solstep-cli/utils/testing"
)

type fixture struct {
	handler   http.Handler
	service   *challenge.Service
	ledger    *ledgertest.Ledger
	organizer *solstep.Wallet
	challenge solana.PublicKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	log := solsteptesting.NewLogger()
	now := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	ledger := ledgertest.New(solstep.DefaultProgram, clock)

	client, err := solstep.NewClient(solstep.ClientConfig{
		Logger:    log,
		ProgramID: solstep.ProgramID,
		Clock:     clock,
		RPC:       ledger,
		Confirmer: ledger,
	})
	require.NoError(t, err)
	store, err := storage.Connect(filepath.Join(t.TempDir(), "solstep.json"))
	require.NoError(t, err)
	svc, err := challenge.NewService(challenge.ServiceConfig{Logger: log, Client: client, Store: store, Clock: clock})
	require.NoError(t, err)

	organizer := &solstep.Wallet{PrivateKey: solana.NewWallet().PrivateKey}
	ledger.Fund(organizer.PublicKey(), solana.LAMPORTS_PER_SOL)

	spots := make([]challenge.Spot, storage.SpotCount)
	for i := range spots {
		spots[i] = challenge.Spot{ID: fmt.Sprintf("s%d", i), Name: fmt.Sprintf("Spot %d", i)}
	}
	address, _, err := svc.Create(ctx, organizer, challenge.CreateRequest{
		Title:           "Canal Walk",
		Spots:           spots,
		StakeLamports:   500,
		Start:           now,
		End:             now.Add(time.Hour),
		MaxParticipants: 2,
	})
	require.NoError(t, err)
	_, err = svc.InitEscrow(ctx, organizer, address)
	require.NoError(t, err)

	srv, err := New(Config{Logger: log, Service: svc})
	require.NoError(t, err)
	return &fixture{
		handler:   srv.Handler(),
		service:   svc,
		ledger:    ledger,
		organizer: organizer,
		challenge: address,
	}
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestSolstep_Server_Routes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	t.Run("healthz", func(t *testing.T) {
		rec := f.get(t, "/healthz")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "ok", rec.Body.String())
	})

	t.Run("list challenges", func(t *testing.T) {
		rec := f.get(t, "/api/challenges")
		require.Equal(t, http.StatusOK, rec.Code)
		var out []challengeResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		require.Len(t, out, 1)
		require.Equal(t, "Canal Walk", out[0].Title)
		require.Equal(t, "active", out[0].Status)
		require.Equal(t, uint64(500), out[0].StakeAmount)
		require.True(t, out[0].HasMetadata)
		require.Empty(t, out[0].Participants)
	})

	t.Run("status filter", func(t *testing.T) {
		rec := f.get(t, "/api/challenges?status=completed")
		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, "[]", rec.Body.String())
	})

	t.Run("get challenge with phase", func(t *testing.T) {
		rec := f.get(t, "/api/challenges/"+f.challenge.String())
		require.Equal(t, http.StatusOK, rec.Code)
		var out challengeResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		require.Equal(t, f.challenge.String(), out.Address)
		require.Equal(t, "active", out.Phase)
	})

	t.Run("unknown challenge", func(t *testing.T) {
		rec := f.get(t, "/api/challenges/"+solana.NewWallet().PublicKey().String())
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid address", func(t *testing.T) {
		rec := f.get(t, "/api/challenges/not-a-key")
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("audit", func(t *testing.T) {
		rec := f.get(t, "/api/audit")
		require.Equal(t, http.StatusOK, rec.Code)
		var out []auditResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		require.Len(t, out, 1)
		require.Equal(t, uint64(0), out[0].Expected)
		require.Equal(t, ledgertest.RentReserve, out[0].Actual)
		require.Equal(t, solstep.DefaultProgram.EscrowAddress(f.challenge).String(), out[0].Escrow)
	})

	t.Run("history", func(t *testing.T) {
		rec := f.get(t, "/api/history/"+f.organizer.PublicKey().String())
		require.Equal(t, http.StatusOK, rec.Code)
		var out []historyResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		require.Len(t, out, 1)
		require.True(t, out[0].Organized)
		require.Equal(t, "not_participated", out[0].Participation)
	})

	t.Run("metrics", func(t *testing.T) {
		rec := f.get(t, "/metrics")
		require.Equal(t, http.StatusOK, rec.Code)
		require.True(t, strings.Contains(rec.Body.String(), "solstep_submissions_total"))
	})
}

func TestSolstep_Server_Config(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)

	cfg := Config{Logger: solsteptesting.NewLogger(), Service: &challenge.Service{}}
	require.NoError(t, cfg.Validate())
	require.Equal(t, "127.0.0.1:8080", cfg.Addr)
}
