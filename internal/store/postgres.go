package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacklok/crosspost-server/internal/config"
)

//go:embed migrations/000001_init.up.sql
var initMigrationUp string

//go:embed migrations/000001_init.down.sql
var initMigrationDown string

const defaultSSLMode = "require"

// MigrateUp applies the schema migrations.
func MigrateUp(ctx context.Context, db *pgx.Conn) error {
	_, err := db.Exec(ctx, initMigrationUp)
	return err
}

// MigrateDown reverts the schema migrations.
func MigrateDown(ctx context.Context, db *pgx.Conn) error {
	_, err := db.Exec(ctx, initMigrationDown)
	return err
}

// ConnString builds a Postgres connection string from configuration.
func ConnString(cfg *config.PostgresConfig) (string, error) {
	password, err := cfg.GetPassword()
	if err != nil {
		return "", fmt.Errorf("failed to get database password: %w", err)
	}

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = defaultSSLMode
	}

	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(password),
		cfg.Host,
		port,
		cfg.Database,
		sslMode,
	), nil
}

// postgresStore implements JobStore and LinkStore on Postgres. Job rows
// are updated with single-statement upserts, which matches the engine's
// single-key read-modify-write consistency model.
type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to Postgres using the given configuration.
func NewPostgresStore(ctx context.Context, cfg *config.PostgresConfig) (*postgresStore, error) { //nolint:revive // unexported-return is intentional
	connString, err := ConnString(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &postgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (p *postgresStore) Close() {
	p.pool.Close()
}

func (p *postgresStore) GetJob(ctx context.Context, key JobKey) (*Job, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT total_ids, remaining_ids, errors, abandoned, finished, attempts
		 FROM sync_jobs WHERE site_id = $1 AND kind = $2`,
		key.SiteID, string(key.Kind),
	)

	var job Job
	var errorsJSON []byte
	err := row.Scan(&job.TotalIDs, &job.RemainingIDs, &errorsJSON, &job.Abandoned, &job.Finished, &job.Attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load job for %s/%s: %w", key.SiteID, key.Kind, err)
	}

	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &job.Errors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job errors: %w", err)
		}
	}
	if len(job.Errors) == 0 {
		job.Errors = nil
	}
	return &job, nil
}

func (p *postgresStore) SaveJob(ctx context.Context, key JobKey, job *Job) error {
	errorsJSON, err := json.Marshal(job.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal job errors: %w", err)
	}
	if job.Errors == nil {
		errorsJSON = []byte("{}")
	}

	remaining := job.RemainingIDs
	if remaining == nil {
		remaining = []int64{}
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO sync_jobs (site_id, kind, total_ids, remaining_ids, errors, abandoned, finished, attempts, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		 ON CONFLICT (site_id, kind) DO UPDATE SET
		   total_ids = EXCLUDED.total_ids,
		   remaining_ids = EXCLUDED.remaining_ids,
		   errors = EXCLUDED.errors,
		   abandoned = EXCLUDED.abandoned,
		   finished = EXCLUDED.finished,
		   attempts = EXCLUDED.attempts,
		   updated_at = NOW()`,
		key.SiteID, string(key.Kind), job.TotalIDs, remaining, errorsJSON, job.Abandoned, job.Finished, job.Attempts,
	)
	if err != nil {
		return fmt.Errorf("failed to save job for %s/%s: %w", key.SiteID, key.Kind, err)
	}
	return nil
}

func (p *postgresStore) DeleteJob(ctx context.Context, key JobKey) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM sync_jobs WHERE site_id = $1 AND kind = $2`,
		key.SiteID, string(key.Kind),
	)
	if err != nil {
		return fmt.Errorf("failed to delete job for %s/%s: %w", key.SiteID, key.Kind, err)
	}
	return nil
}

func (p *postgresStore) GetLink(ctx context.Context, siteID string, localID int64) (int64, bool, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT remote_id FROM identity_links WHERE site_id = $1 AND local_id = $2`,
		siteID, localID,
	)

	var remoteID int64
	if err := row.Scan(&remoteID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to load link %s/%s: %w",
			siteID, strconv.FormatInt(localID, 10), err)
	}
	return remoteID, true, nil
}

func (p *postgresStore) SaveLink(ctx context.Context, siteID string, localID, remoteID int64) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO identity_links (site_id, local_id, remote_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (site_id, local_id) DO UPDATE SET remote_id = EXCLUDED.remote_id`,
		siteID, localID, remoteID,
	)
	if err != nil {
		return fmt.Errorf("failed to save link %s/%s: %w",
			siteID, strconv.FormatInt(localID, 10), err)
	}
	return nil
}
