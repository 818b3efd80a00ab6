package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver with database/sql
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var EmbedMigrations embed.FS

const postgresBackend = "postgres"

type PostgresConfig struct {
	Logger        *slog.Logger
	DSN           string
	RunMigrations bool
	MaxConns      int32
}

func (cfg *PostgresConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DSN == "" {
		return errors.New("dsn is required")
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 10
	}
	return nil
}

// PostgresStore keeps metadata and progress in PostgreSQL.
type PostgresStore struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if cfg.RunMigrations {
		if err := RunMigrations(cfg.Logger, cfg.DSN); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	cfg.Logger.Debug("solstep/storage: connected to postgres", "maxConns", cfg.MaxConns)
	return &PostgresStore{log: cfg.Logger, pool: pool}, nil
}

// RunMigrations applies the embedded goose migrations.
func RunMigrations(log *slog.Logger, dsn string) error {
	log.Info("solstep/storage: running postgres migrations")

	goose.SetBaseFS(EmbedMigrations)
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const metadataColumns = `challenge, title, spots, spot_names, organizer, organizer_name, created_at,
	start_ts, end_ts, max_participants, stake_amount, challenge_type, status, winner`

func scanMetadata(row pgx.Row) (*ChallengeMetadata, error) {
	var (
		m               ChallengeMetadata
		maxParticipants int64
		winner          *string
	)
	err := row.Scan(
		&m.Challenge, &m.Title, &m.Spots, &m.SpotNames, &m.Organizer, &m.OrganizerName, &m.CreatedAt,
		&m.StartTs, &m.EndTs, &maxParticipants, &m.StakeAmount, &m.Type, &m.Status, &winner,
	)
	if err != nil {
		return nil, err
	}
	m.MaxParticipants = uint32(maxParticipants)
	m.CreatedAt = m.CreatedAt.UTC()
	if winner != nil {
		m.Winner = *winner
	}
	if len(m.SpotNames) == 0 {
		m.SpotNames = nil
	}
	return &m, nil
}

func (s *PostgresStore) PutMetadata(ctx context.Context, m ChallengeMetadata) (err error) {
	defer func() { observe(postgresBackend, "put_metadata", err) }()
	if err := m.Validate(); err != nil {
		return err
	}
	spotNames := m.SpotNames
	if spotNames == nil {
		spotNames = []string{}
	}
	var winner *string
	if m.Winner != "" {
		winner = &m.Winner
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM participant_progress WHERE challenge = $1`, m.Challenge); err != nil {
			return fmt.Errorf("failed to delete earlier progress: %w", err)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO challenge_metadata (`+metadataColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (challenge) DO UPDATE SET
				title = EXCLUDED.title,
				spots = EXCLUDED.spots,
				spot_names = EXCLUDED.spot_names,
				organizer = EXCLUDED.organizer,
				organizer_name = EXCLUDED.organizer_name,
				created_at = EXCLUDED.created_at,
				start_ts = EXCLUDED.start_ts,
				end_ts = EXCLUDED.end_ts,
				max_participants = EXCLUDED.max_participants,
				stake_amount = EXCLUDED.stake_amount,
				challenge_type = EXCLUDED.challenge_type,
				status = EXCLUDED.status,
				winner = EXCLUDED.winner
		`, m.Challenge, m.Title, m.Spots, spotNames, m.Organizer, m.OrganizerName, m.CreatedAt.UTC(),
			m.StartTs, m.EndTs, int64(m.MaxParticipants), m.StakeAmount, m.Type, m.Status, winner)
		if err != nil {
			return fmt.Errorf("failed to upsert challenge metadata: %w", err)
		}
		return nil
	})
	return err
}

func (s *PostgresStore) GetMetadata(ctx context.Context, challenge string) (m *ChallengeMetadata, err error) {
	defer func() { observe(postgresBackend, "get_metadata", err) }()
	row := s.pool.QueryRow(ctx, `SELECT `+metadataColumns+` FROM challenge_metadata WHERE challenge = $1`, challenge)
	m, err = scanMetadata(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("challenge %s: %w", challenge, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get challenge metadata: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) ListMetadata(ctx context.Context) (out []ChallengeMetadata, err error) {
	defer func() { observe(postgresBackend, "list_metadata", err) }()
	rows, err := s.pool.Query(ctx, `SELECT `+metadataColumns+` FROM challenge_metadata ORDER BY created_at DESC, challenge`)
	if err != nil {
		return nil, fmt.Errorf("failed to list challenge metadata: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan challenge metadata: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountCreatedSince(ctx context.Context, organizer string, since time.Time) (count int, err error) {
	defer func() { observe(postgresBackend, "count_created", err) }()
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM challenge_metadata
		WHERE organizer = $1 AND created_at >= $2 AND status <> $3
	`, organizer, since.UTC(), StatusPending).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count challenges: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) SetWinner(ctx context.Context, challenge, winner string) (err error) {
	defer func() { observe(postgresBackend, "set_winner", err) }()
	tag, err := s.pool.Exec(ctx, `
		UPDATE challenge_metadata SET winner = $2, status = $3
		WHERE challenge = $1 AND winner IS NULL
	`, challenge, winner, StatusCompleted)
	if err != nil {
		return fmt.Errorf("failed to set winner: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetMetadata(ctx, challenge); err != nil {
		return err
	}
	return fmt.Errorf("challenge %s: %w", challenge, ErrWinnerAlreadySet)
}

func (s *PostgresStore) SetStatus(ctx context.Context, challenge, status string) (err error) {
	defer func() { observe(postgresBackend, "set_status", err) }()
	tag, err := s.pool.Exec(ctx, `UPDATE challenge_metadata SET status = $2 WHERE challenge = $1`, challenge, status)
	if err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("challenge %s: %w", challenge, ErrNotFound)
	}
	return nil
}

func scanProgress(row pgx.Row) (*ParticipantProgress, error) {
	var p ParticipantProgress
	if err := row.Scan(&p.Challenge, &p.Participant, &p.SpotsCaptured, &p.CompletedAt); err != nil {
		return nil, err
	}
	if p.CompletedAt != nil {
		t := p.CompletedAt.UTC()
		p.CompletedAt = &t
	}
	return &p, nil
}

func (s *PostgresStore) GetProgress(ctx context.Context, challenge, participant string) (p *ParticipantProgress, err error) {
	defer func() { observe(postgresBackend, "get_progress", err) }()
	row := s.pool.QueryRow(ctx, `
		SELECT challenge, participant, spots_captured, completed_at
		FROM participant_progress WHERE challenge = $1 AND participant = $2
	`, challenge, participant)
	p, err = scanProgress(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("progress %s: %w", ProgressKey(challenge, participant), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListProgress(ctx context.Context, challenge string) (out map[string]ParticipantProgress, err error) {
	defer func() { observe(postgresBackend, "list_progress", err) }()
	rows, err := s.pool.Query(ctx, `
		SELECT challenge, participant, spots_captured, completed_at
		FROM participant_progress WHERE challenge = $1
	`, challenge)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	defer rows.Close()
	out = make(map[string]ParticipantProgress)
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan progress: %w", err)
		}
		out[p.Participant] = *p
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListProgressByParticipant(ctx context.Context, participant string) (out []ParticipantProgress, err error) {
	defer func() { observe(postgresBackend, "list_progress_by_participant", err) }()
	rows, err := s.pool.Query(ctx, `
		SELECT challenge, participant, spots_captured, completed_at
		FROM participant_progress WHERE participant = $1 ORDER BY challenge
	`, participant)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan progress: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveProgress(ctx context.Context, p ParticipantProgress) (err error) {
	defer func() { observe(postgresBackend, "save_progress", err) }()
	if p.Challenge == "" || p.Participant == "" {
		return fmt.Errorf("%w: progress needs a challenge and a participant", ErrInvalidRecord)
	}
	spots := p.SpotsCaptured
	if spots == nil {
		spots = []string{}
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO participant_progress (challenge, participant, spots_captured, completed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (challenge, participant) DO UPDATE SET
			spots_captured = EXCLUDED.spots_captured,
			completed_at = EXCLUDED.completed_at
	`, p.Challenge, p.Participant, spots, p.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	return nil
}
