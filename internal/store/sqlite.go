package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/filing-summary/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	accession   TEXT NOT NULL,
	filing_type TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	result      TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS summaries (
	accession     TEXT PRIMARY KEY,
	summary       TEXT NOT NULL,
	editorial     TEXT NOT NULL,
	coverage      TEXT NOT NULL,
	fallback_used INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS facts_cache (
	key        TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	cached_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_accession ON runs(accession);
CREATE INDEX IF NOT EXISTS idx_facts_cache_expires_at ON facts_cache(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, doc model.FilingDocument) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, accession, filing_type, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, doc.AccessionNumber, doc.FilingType, string(model.RunStatusPending), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
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

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, result *model.SummaryResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	status := model.RunStatusDelivered
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET result = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, accession, filing_type, status, result, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, accession, filing_type, status, result, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Accession != "" {
		query += ` AND accession = ?`
		args = append(args, filter.Accession)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) PutSummary(ctx context.Context, result *model.SummaryResult) error {
	if result.ResultType != model.ResultTypeFull {
		return ErrPartialSummary
	}

	summaryJSON, err := json.Marshal(result.Summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}
	coverageJSON, err := json.Marshal(result.Coverage)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal coverage")
	}

	fallback := 0
	if result.Editorial.FallbackUsed {
		fallback = 1
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO summaries (accession, summary, editorial, coverage, fallback_used, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(accession) DO UPDATE SET
		   summary = excluded.summary,
		   editorial = excluded.editorial,
		   coverage = excluded.coverage,
		   fallback_used = excluded.fallback_used,
		   created_at = excluded.created_at`,
		result.Accession, string(summaryJSON), result.Editorial.Markdown, string(coverageJSON), fallback, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: put summary %s", result.Accession)
}

func (s *SQLiteStore) GetSummary(ctx context.Context, accession string) (*model.PersistedSummary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT accession, summary, editorial, coverage, fallback_used, created_at FROM summaries WHERE accession = ?`,
		accession,
	)
	return scanSummary(row)
}

func (s *SQLiteStore) ListSummaries(ctx context.Context, limit, offset int) ([]model.PersistedSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT accession, summary, editorial, coverage, fallback_used, created_at
		 FROM summaries ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list summaries")
	}
	defer rows.Close()

	var out []model.PersistedSummary
	for rows.Next() {
		ps, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ps)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list summaries iterate")
}

func (s *SQLiteStore) GetFacts(ctx context.Context, key string) ([]byte, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT data FROM facts_cache WHERE key = ? AND expires_at > datetime('now')`,
		key,
	)
	var data string
	err := row.Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: get facts")
	}
	return []byte(data), true, nil
}

func (s *SQLiteStore) PutFacts(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO facts_cache (key, data, cached_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data, cached_at = excluded.cached_at, expires_at = excluded.expires_at`,
		key, string(data), now, now.Add(ttl),
	)
	return eris.Wrap(err, "sqlite: put facts")
}

func (s *SQLiteStore) DeleteExpiredFacts(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM facts_cache WHERE expires_at <= datetime('now')`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired facts")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var resultJSON sql.NullString

	err := row.Scan(&r.ID, &r.Accession, &r.FilingType, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if resultJSON.Valid {
		r.Result = &model.SummaryResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	return &r, nil
}

func scanSummary(row scannable) (*model.PersistedSummary, error) {
	var ps model.PersistedSummary
	var summaryJSON, coverageJSON string
	var fallback int
	var createdAt time.Time

	err := row.Scan(&ps.Accession, &summaryJSON, &ps.Editorial, &coverageJSON, &fallback, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan summary")
	}

	if err := json.Unmarshal([]byte(summaryJSON), &ps.Summary); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal summary")
	}
	if err := json.Unmarshal([]byte(coverageJSON), &ps.Coverage); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal coverage")
	}
	ps.FallbackUsed = fallback != 0
	ps.CreatedAt = createdAt.UTC().Format(time.RFC3339)
	return &ps, nil
}
