package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"solstep-cli/challenge"
	solstep "solstep-cli/solana"
	"solstep-cli/storage"
	"solstep-cli/utils/logger"
)

// app holds everything a command needs once configuration is resolved.
type app struct {
	log    *slog.Logger
	cfg    *Config
	client *solstep.Client
	store  storage.Store
	svc    *challenge.Service
}

func newApp(ctx context.Context, cfg *Config) (*app, error) {
	log := logger.New(cfg.Verbose)

	wsURL, err := cfg.WebsocketURL()
	if err != nil {
		return nil, err
	}
	client, err := solstep.NewClient(solstep.ClientConfig{
		Logger:      log,
		ProgramID:   cfg.ProgramID,
		RPCEndpoint: cfg.RPCURL,
		WSEndpoint:  wsURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Solana client: %w", err)
	}

	store, err := openStore(ctx, log, cfg.Store)
	if err != nil {
		client.Close()
		return nil, err
	}

	svc, err := challenge.NewService(challenge.ServiceConfig{
		Logger: log,
		Client: client,
		Store:  store,
	})
	if err != nil {
		client.Close()
		_ = store.Close()
		return nil, err
	}

	log.Debug("solstep/cli: configured", "rpc", cfg.RPCURL, "ws", wsURL, "program", cfg.ProgramID)
	return &app{log: log, cfg: cfg, client: client, store: store, svc: svc}, nil
}

// openStore opens PostgreSQL for postgres:// DSNs and the JSON file store
// for anything else, including an empty value.
func openStore(ctx context.Context, log *slog.Logger, target string) (storage.Store, error) {
	if strings.HasPrefix(target, "postgres://") || strings.HasPrefix(target, "postgresql://") {
		store, err := storage.NewPostgresStore(ctx, storage.PostgresConfig{
			Logger:        log,
			DSN:           target,
			RunMigrations: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return store, nil
	}
	store, err := storage.Connect(target)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return store, nil
}

func (a *app) Close() {
	a.client.Close()
	if err := a.store.Close(); err != nil {
		a.log.Warn("solstep/cli: failed to close store", "error", err)
	}
}

// signer loads the wallet at the configured path, creating one on first use.
func (a *app) signer() (*solstep.Wallet, error) {
	wallet, created, err := solstep.LoadOrCreateWallet(a.cfg.WalletPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}
	if created {
		fmt.Println(titleStyle.Render("🔑 Created a new wallet"))
		fmt.Println(promptStyle.Render("   Address:"), wallet.PublicKey().String())
		fmt.Println(promptStyle.Render("   Saved to:"), a.cfg.WalletPath)
	}
	return wallet, nil
}
