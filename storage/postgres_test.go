package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	solsteptesting "solstep-cli/utils/testing"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("solstep"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tcpostgres.BasicWaitStrategies(),
		tcpostgres.WithSQLDriver("pgx"),
	)
	if err != nil {
		t.Skipf("PostgreSQL container unavailable: %v", err)
	}
	t.Cleanup(func() {
		terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Terminate(terminateCtx)
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestSolstep_Storage_Postgres(t *testing.T) {
	dsn := startPostgres(t)
	log := solsteptesting.NewLogger()

	store, err := NewPostgresStore(context.Background(), PostgresConfig{
		Logger:        log,
		DSN:           dsn,
		RunMigrations: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	// Migrations are idempotent.
	require.NoError(t, RunMigrations(log, dsn))

	runStoreSuite(t, func(t *testing.T) Store {
		_, err := store.pool.Exec(context.Background(), `TRUNCATE challenge_metadata, participant_progress`)
		require.NoError(t, err)
		return store
	})
}

func TestSolstep_Storage_PostgresConfig(t *testing.T) {
	t.Parallel()

	_, err := NewPostgresStore(context.Background(), PostgresConfig{})
	require.Error(t, err)

	_, err = NewPostgresStore(context.Background(), PostgresConfig{Logger: solsteptesting.NewLogger()})
	require.Error(t, err)
}
