package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/filing-summary/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. Declared as an
// interface so tests can substitute a mock pool.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":           `INSERT INTO runs (id, accession, filing_type, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"update_run_status":    `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"complete_run":         `UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
	"get_run":              `SELECT id, accession, filing_type, status, result, created_at, updated_at FROM runs WHERE id = $1`,
	"get_summary":          `SELECT accession, summary, editorial, coverage, fallback_used, created_at FROM summaries WHERE accession = $1`,
	"get_facts":            `SELECT data FROM facts_cache WHERE key = $1 AND expires_at > now()`,
	"delete_expired_facts": `DELETE FROM facts_cache WHERE expires_at <= now()`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	accession   TEXT NOT NULL,
	filing_type TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	result      JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS summaries (
	accession     TEXT PRIMARY KEY,
	summary       JSONB NOT NULL,
	editorial     TEXT NOT NULL,
	coverage      JSONB NOT NULL,
	fallback_used BOOLEAN NOT NULL DEFAULT false,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS facts_cache (
	key        TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_accession ON runs(accession);
CREATE INDEX IF NOT EXISTS idx_facts_cache_expires_at ON facts_cache(expires_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, doc model.FilingDocument) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, accession, filing_type, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, doc.AccessionNumber, doc.FilingType, string(model.RunStatusPending), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:         id,
		Accession:  doc.AccessionNumber,
		FilingType: doc.FilingType,
		Status:     model.RunStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, result *model.SummaryResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(model.RunStatusDelivered), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, accession, filing_type, status, result, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)
	return scanPGRun(row)
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, accession, filing_type, status, result, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filter.Accession != "" {
		args = append(args, filter.Accession)
		query += ` AND accession = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPGRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) PutSummary(ctx context.Context, result *model.SummaryResult) error {
	if result.ResultType != model.ResultTypeFull {
		return ErrPartialSummary
	}

	summaryJSON, err := json.Marshal(result.Summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}
	coverageJSON, err := json.Marshal(result.Coverage)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal coverage")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO summaries (accession, summary, editorial, coverage, fallback_used, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (accession) DO UPDATE SET
		   summary = EXCLUDED.summary,
		   editorial = EXCLUDED.editorial,
		   coverage = EXCLUDED.coverage,
		   fallback_used = EXCLUDED.fallback_used,
		   created_at = EXCLUDED.created_at`,
		result.Accession, summaryJSON, result.Editorial.Markdown, coverageJSON, result.Editorial.FallbackUsed, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: put summary %s", result.Accession)
}

func (s *PostgresStore) GetSummary(ctx context.Context, accession string) (*model.PersistedSummary, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT accession, summary, editorial, coverage, fallback_used, created_at FROM summaries WHERE accession = $1`,
		accession,
	)

	var ps model.PersistedSummary
	var summaryJSON, coverageJSON []byte
	var createdAt time.Time

	err := row.Scan(&ps.Accession, &summaryJSON, &ps.Editorial, &coverageJSON, &ps.FallbackUsed, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan summary")
	}

	if err := json.Unmarshal(summaryJSON, &ps.Summary); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal summary")
	}
	if err := json.Unmarshal(coverageJSON, &ps.Coverage); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal coverage")
	}
	ps.CreatedAt = createdAt.UTC().Format(time.RFC3339)
	return &ps, nil
}

func (s *PostgresStore) ListSummaries(ctx context.Context, limit, offset int) ([]model.PersistedSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT accession, summary, editorial, coverage, fallback_used, created_at
		 FROM summaries ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list summaries")
	}
	defer rows.Close()

	var out []model.PersistedSummary
	for rows.Next() {
		var ps model.PersistedSummary
		var summaryJSON, coverageJSON []byte
		var createdAt time.Time
		if err := rows.Scan(&ps.Accession, &summaryJSON, &ps.Editorial, &coverageJSON, &ps.FallbackUsed, &createdAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan summary")
		}
		if err := json.Unmarshal(summaryJSON, &ps.Summary); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal summary")
		}
		if err := json.Unmarshal(coverageJSON, &ps.Coverage); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal coverage")
		}
		ps.CreatedAt = createdAt.UTC().Format(time.RFC3339)
		out = append(out, ps)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list summaries iterate")
}

func (s *PostgresStore) GetFacts(ctx context.Context, key string) ([]byte, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT data FROM facts_cache WHERE key = $1 AND expires_at > now()`,
		key,
	)
	var data []byte
	err := row.Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: get facts")
	}
	return data, true, nil
}

func (s *PostgresStore) PutFacts(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO facts_cache (key, data, cached_at, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, cached_at = EXCLUDED.cached_at, expires_at = EXCLUDED.expires_at`,
		key, data, now, now.Add(ttl),
	)
	return eris.Wrap(err, "postgres: put facts")
}

func (s *PostgresStore) DeleteExpiredFacts(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM facts_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired facts")
	}
	return int(tag.RowsAffected()), nil
}

func scanPGRun(row scannable) (*model.Run, error) {
	var r model.Run
	var resultJSON []byte

	err := row.Scan(&r.ID, &r.Accession, &r.FilingType, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}

	if len(resultJSON) > 0 {
		r.Result = &model.SummaryResult{}
		if err := json.Unmarshal(resultJSON, r.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
	}
	return &r, nil
}

