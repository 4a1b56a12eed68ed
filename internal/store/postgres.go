package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"qguard/pkg/logging"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the tables used by Postgres. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS qguard_executions (
	id           TEXT PRIMARY KEY,
	test_case_id BIGINT,
	project_id   BIGINT,
	environment  TEXT,
	status       TEXT NOT NULL DEFAULT 'pending',
	config       JSONB NOT NULL DEFAULT '{}'::jsonb,
	result       JSONB,
	logs         TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at   TIMESTAMPTZ,
	finished_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS qguard_executions_pending
	ON qguard_executions (created_at) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS qguard_environments (
	key             TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	base_url        TEXT,
	is_active       BOOLEAN NOT NULL DEFAULT true,
	default_headers JSONB,
	default_params  JSONB,
	variables       JSONB
);
`

const executionColumns = `id, COALESCE(test_case_id, 0), COALESCE(project_id, 0), COALESCE(environment, ''),
	status, config, result, logs, created_at, started_at, finished_at`

const (
	queryInsertExecution = `
		INSERT INTO qguard_executions (id, test_case_id, project_id, environment, status, config, result, logs, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8, $9)
		RETURNING ` + executionColumns

	queryGetExecution = `SELECT ` + executionColumns + ` FROM qguard_executions WHERE id = $1`

	queryPendingScheduled = `
		SELECT ` + executionColumns + `
		FROM qguard_executions
		WHERE status = 'pending' AND config->'scheduling'->>'mode' = 'schedule'
		ORDER BY created_at, id`

	queryClaim = `
		UPDATE qguard_executions
		SET status = 'running', started_at = $2
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + executionColumns

	queryComplete = `
		UPDATE qguard_executions
		SET status = $2, logs = $3, result = $4::jsonb, finished_at = $5
		WHERE id = $1 AND (status = 'running' OR ($2 = 'error' AND status = 'pending'))`

	queryCancel = `
		UPDATE qguard_executions
		SET status = 'cancelled', logs = $2, finished_at = $3
		WHERE id = $1 AND status = 'pending'`

	queryGetEnvironment = `
		SELECT key, name, COALESCE(base_url, ''), is_active,
			COALESCE(default_headers, '{}'::jsonb), COALESCE(default_params, '{}'::jsonb), COALESCE(variables, '{}'::jsonb)
		FROM qguard_environments
		WHERE key = $1 AND is_active`
)

var _ Store = (*Postgres)(nil)

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// PostgresOptions tunes the connection pool.
type PostgresOptions struct {
	MaxConns    int32
	PingTimeout time.Duration
}

// OpenPostgres connects to dsn and verifies the connection with a ping.
func OpenPostgres(ctx context.Context, dsn string, opts PostgresOptions) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	logging.Info("Store", "Connected to PostgreSQL (max conns %d)", cfg.MaxConns)
	return &Postgres{pool: pool}, nil
}

// Migrate applies Schema.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) Create(ctx context.Context, e *Execution) (*Execution, error) {
	rec := e.Clone()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	row := p.pool.QueryRow(ctx, queryInsertExecution,
		rec.ID, nullIfZero(rec.TestCaseID), nullIfZero(rec.ProjectID), nullIfEmpty(rec.Environment),
		string(rec.Status), jsonOrEmpty(rec.Config), jsonOrNull(rec.Result), rec.Logs, rec.CreatedAt)
	out, err := scanExecution(row)
	if err != nil {
		return nil, fmt.Errorf("insert execution: %w", err)
	}
	return out, nil
}

func (p *Postgres) Get(ctx context.Context, id string) (*Execution, error) {
	rec, err := scanExecution(p.pool.QueryRow(ctx, queryGetExecution, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get execution %s: %w", id, err)
	}
	return rec, nil
}

func (p *Postgres) ListPendingScheduled(ctx context.Context) ([]*Execution, error) {
	rows, err := p.pool.Query(ctx, queryPendingScheduled)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) Claim(ctx context.Context, id string, at time.Time) (*Execution, error) {
	rec, err := scanExecution(p.pool.QueryRow(ctx, queryClaim, id, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, p.explain(ctx, id, StatusRunning)
	}
	if err != nil {
		return nil, fmt.Errorf("claim execution %s: %w", id, err)
	}
	return rec, nil
}

func (p *Postgres) Complete(ctx context.Context, id string, c Completion) error {
	if !c.Status.IsTerminal() || c.Status == StatusCancelled {
		return fmt.Errorf("complete with status %s: %w", c.Status, ErrInvalidTransition)
	}
	tag, err := p.pool.Exec(ctx, queryComplete, id, string(c.Status), c.Logs, jsonOrNull(c.Result), c.FinishedAt)
	if err != nil {
		return fmt.Errorf("complete execution %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return p.explain(ctx, id, c.Status)
	}
	return nil
}

func (p *Postgres) Cancel(ctx context.Context, id string, logs string, at time.Time) error {
	tag, err := p.pool.Exec(ctx, queryCancel, id, logs, at)
	if err != nil {
		return fmt.Errorf("cancel execution %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return p.explain(ctx, id, StatusCancelled)
	}
	return nil
}

func (p *Postgres) GetEnvironment(ctx context.Context, key string) (*Environment, error) {
	var (
		env                      Environment
		headers, params, varsRaw []byte
	)
	err := p.pool.QueryRow(ctx, queryGetEnvironment, key).Scan(
		&env.Key, &env.Name, &env.BaseURL, &env.IsActive, &headers, &params, &varsRaw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("environment %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get environment %s: %w", key, err)
	}
	for _, f := range []struct {
		raw []byte
		dst *map[string]interface{}
	}{{headers, &env.DefaultHeaders}, {params, &env.DefaultParams}, {varsRaw, &env.Variables}} {
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("decode environment %s: %w", key, err)
		}
	}
	return &env, nil
}

// explain turns a conditional update that matched no row into ErrNotFound
// or ErrInvalidTransition.
func (p *Postgres) explain(ctx context.Context, id string, next Status) error {
	rec, err := p.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("execution %s: %s -> %s: %w", id, rec.Status, next, ErrInvalidTransition)
}

func scanExecution(row pgx.Row) (*Execution, error) {
	var (
		rec            Execution
		status         string
		config, result []byte
	)
	err := row.Scan(&rec.ID, &rec.TestCaseID, &rec.ProjectID, &rec.Environment,
		&status, &config, &result, &rec.Logs, &rec.CreatedAt, &rec.StartedAt, &rec.FinishedAt)
	if err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	rec.Config = json.RawMessage(config)
	if len(result) > 0 {
		rec.Result = json.RawMessage(result)
	}
	return &rec, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}

func jsonOrEmpty(b []byte) string {
	if len(b) == 0 {
		return "{}"
	}
	return string(b)
}

func jsonOrNull(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
