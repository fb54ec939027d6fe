package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/filing-summary/internal/model"
)

// ErrPartialSummary is returned when a caller attempts to persist a summary
// whose result type is not full. The quality gate enforces this upstream;
// the store enforces it again so no code path can leak a partial result
// into durable storage.
var ErrPartialSummary = eris.New("store: partial summaries are not persistable")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status    model.RunStatus `json:"status,omitempty"`
	Accession string          `json:"accession,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the summary pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, doc model.FilingDocument) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, result *model.SummaryResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Persisted summaries (full results only)
	PutSummary(ctx context.Context, result *model.SummaryResult) error
	GetSummary(ctx context.Context, accession string) (*model.PersistedSummary, error)
	ListSummaries(ctx context.Context, limit, offset int) ([]model.PersistedSummary, error)

	// Facts cache durable tier
	GetFacts(ctx context.Context, key string) ([]byte, bool, error)
	PutFacts(ctx context.Context, key string, data []byte, ttl time.Duration) error
	DeleteExpiredFacts(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
