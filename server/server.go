// Package server exposes reconciled challenge data over a read-only HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"solstep-cli/challenge"
	"solstep-cli/reconcile"
	solstep "solstep-cli/solana"
)

// Service is the part of the challenge service the API reads from.
type Service interface {
	List(ctx context.Context) ([]reconcile.View, error)
	View(ctx context.Context, challenge solana.PublicKey) (reconcile.View, error)
	Phase(ctx context.Context, v reconcile.View) (reconcile.Phase, error)
	Audit(ctx context.Context) ([]solstep.AuditReport, error)
	History(ctx context.Context, wallet solana.PublicKey) ([]reconcile.HistoryEntry, error)
}

var _ Service = (*challenge.Service)(nil)

type Config struct {
	Logger  *slog.Logger
	Service Service
	Addr    string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Service == nil {
		return errors.New("service is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	return nil
}

type Server struct {
	log     *slog.Logger
	service Service
	router  *chi.Mux
	srv     *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		log:     cfg.Logger,
		service: cfg.Service,
		router:  chi.NewRouter(),
	}
	s.setupRoutes()
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/challenges", s.handleListChallenges)
		r.Get("/challenges/{address}", s.handleGetChallenge)
		r.Get("/audit", s.handleAudit)
		r.Get("/history/{wallet}", s.handleHistory)
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("solstep/server: listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	s.log.Info("solstep/server: stopped")
	return nil
}

type challengeResponse struct {
	Address          string   `json:"address"`
	Title            string   `json:"title"`
	Organizer        string   `json:"organizer"`
	Status           string   `json:"status"`
	Phase            string   `json:"phase,omitempty"`
	StakeAmount      uint64   `json:"stakeAmount"`
	StartTs          int64    `json:"startTs"`
	EndTs            int64    `json:"endTs"`
	MaxParticipants  uint32   `json:"maxParticipants"`
	ParticipantCount uint32   `json:"participantCount"`
	Participants     []string `json:"participants"`
	IsFinalized      bool     `json:"isFinalized"`
	Winner           string   `json:"winner,omitempty"`
	Candidate        string   `json:"candidate,omitempty"`
	HasMetadata      bool     `json:"hasMetadata"`
}

func newChallengeResponse(v reconcile.View) challengeResponse {
	c := v.Challenge
	resp := challengeResponse{
		Address:          c.PublicKey.String(),
		Title:            v.Title(),
		Organizer:        c.Organizer.String(),
		Status:           v.Status.String(),
		StakeAmount:      c.StakeAmount,
		StartTs:          c.StartTs,
		EndTs:            c.EndTs,
		MaxParticipants:  c.MaxParticipants,
		ParticipantCount: c.ParticipantCount,
		Participants:     make([]string, 0, len(c.Participants)),
		IsFinalized:      c.IsFinalized,
		HasMetadata:      v.Metadata != nil,
	}
	for _, p := range c.Participants {
		resp.Participants = append(resp.Participants, p.String())
	}
	if v.HasWinner() {
		resp.Winner = v.Winner.String()
	}
	if !v.Candidate.IsZero() {
		resp.Candidate = v.Candidate.String()
	}
	return resp
}

func (s *Server) handleListChallenges(w http.ResponseWriter, r *http.Request) {
	views, err := s.service.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]challengeResponse, 0, len(views))
	for _, v := range views {
		if status := r.URL.Query().Get("status"); status != "" && status != v.Status.String() {
			continue
		}
		out = append(out, newChallengeResponse(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetChallenge(w http.ResponseWriter, r *http.Request) {
	address, ok := s.pathKey(w, r, "address")
	if !ok {
		return
	}
	v, err := s.service.View(r.Context(), address)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := newChallengeResponse(v)
	if phase, err := s.service.Phase(r.Context(), v); err == nil {
		resp.Phase = phase.String()
	} else {
		s.log.Warn("solstep/server: failed to derive phase", "challenge", address, "error", err)
	}
	writeJSON(w, http.StatusOK, resp)
}

type auditResponse struct {
	Challenge string `json:"challenge"`
	Escrow    string `json:"escrow"`
	Expected  uint64 `json:"expected"`
	Actual    uint64 `json:"actual"`
	Delta     int64  `json:"delta"`
	Reserve   uint64 `json:"reserve"`
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	reports, err := s.service.Audit(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]auditResponse, 0, len(reports))
	for _, rep := range reports {
		out = append(out, auditResponse{
			Challenge: rep.Challenge.String(),
			Escrow:    rep.Escrow.String(),
			Expected:  rep.Expected,
			Actual:    rep.Actual,
			Delta:     rep.Delta,
			Reserve:   rep.Reserve,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type historyResponse struct {
	Challenge     string `json:"challenge"`
	Title         string `json:"title"`
	Status        string `json:"status"`
	Organized     bool   `json:"organized"`
	Participation string `json:"participation"`
	Captured      int    `json:"captured"`
	Payout        uint64 `json:"payout"`
	EndTs         int64  `json:"endTs"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	wallet, ok := s.pathKey(w, r, "wallet")
	if !ok {
		return
	}
	entries, err := s.service.History(r.Context(), wallet)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]historyResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyResponse{
			Challenge:     e.Challenge.String(),
			Title:         e.Title,
			Status:        e.Status.String(),
			Organized:     e.Organized,
			Participation: e.Participation.String(),
			Captured:      e.Captured,
			Payout:        e.Payout,
			EndTs:         e.EndTs,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) pathKey(w http.ResponseWriter, r *http.Request, param string) (solana.PublicKey, bool) {
	key, err := solana.PublicKeyFromBase58(chi.URLParam(r, param))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid %s", param)})
		return solana.PublicKey{}, false
	}
	return key, true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, rpc.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, solstep.ErrNetwork):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.log.Error("solstep/server: request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
