package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sells-group/filing-summary/internal/config"
	"github.com/sells-group/filing-summary/internal/model"
	"github.com/sells-group/filing-summary/internal/store"
	"github.com/sells-group/filing-summary/pkg/anthropic"
	"github.com/sells-group/filing-summary/pkg/facts"
)

// fakeAI routes CreateMessage through a scripted handler.
type fakeAI struct {
	handler func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error)
}

func (f *fakeAI) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	return f.handler(ctx, req)
}

// textResponse wraps a plain string in a MessageResponse.
func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 100, OutputTokens: 50},
	}
}

// jsonResponse marshals v and wraps it in a MessageResponse.
func jsonResponse(v any) *anthropic.MessageResponse {
	data, _ := json.Marshal(v)
	return textResponse(string(data))
}

// memStore is an in-memory store.Store for pipeline tests.
type memStore struct {
	mu        sync.Mutex
	runs      map[string]*model.Run
	summaries map[string]*model.PersistedSummary
	facts     map[string][]byte
	statuses  []model.RunStatus
}

func newMemStore() *memStore {
	return &memStore{
		runs:      make(map[string]*model.Run),
		summaries: make(map[string]*model.PersistedSummary),
		facts:     make(map[string][]byte),
	}
}

func (m *memStore) CreateRun(ctx context.Context, doc model.FilingDocument) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := &model.Run{
		ID:         "run-" + doc.AccessionNumber,
		Accession:  doc.AccessionNumber,
		FilingType: doc.FilingType,
		Status:     model.RunStatusPending,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	m.runs[run.ID] = run
	return run, nil
}

func (m *memStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.runs[runID]; ok {
		r.Status = status
	}
	m.statuses = append(m.statuses, status)
	return nil
}

func (m *memStore) CompleteRun(ctx context.Context, runID string, result *model.SummaryResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.runs[runID]; ok {
		r.Status = model.RunStatusDelivered
		r.Result = result
	}
	return nil
}

func (m *memStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[runID], nil
}

func (m *memStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error) {
	return nil, nil
}

func (m *memStore) PutSummary(ctx context.Context, result *model.SummaryResult) error {
	if result.ResultType != model.ResultTypeFull {
		return store.ErrPartialSummary
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[result.Accession] = &model.PersistedSummary{
		Accession:    result.Accession,
		Summary:      result.Summary,
		Editorial:    result.Editorial.Markdown,
		Coverage:     result.Coverage,
		FallbackUsed: result.Editorial.FallbackUsed,
	}
	return nil
}

func (m *memStore) GetSummary(ctx context.Context, accession string) (*model.PersistedSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summaries[accession], nil
}

func (m *memStore) ListSummaries(ctx context.Context, limit, offset int) ([]model.PersistedSummary, error) {
	return nil, nil
}

func (m *memStore) GetFacts(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.facts[key]
	return data, ok, nil
}

func (m *memStore) PutFacts(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts[key] = data
	return nil
}

func (m *memStore) DeleteExpiredFacts(ctx context.Context) (int, error) { return 0, nil }
func (m *memStore) Migrate(ctx context.Context) error                   { return nil }
func (m *memStore) Close() error                                        { return nil }

// stubFacts returns a fixed CompanyFacts.
type stubFacts struct {
	cf  *facts.CompanyFacts
	err error
}

func (s *stubFacts) Get(ctx context.Context, cik string) (*facts.CompanyFacts, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.cf, nil
}

// testConfig returns a config with short budgets suitable for tests.
func testConfig() *config.Config {
	return &config.Config{
		Anthropic: config.AnthropicConfig{
			ExtractModel:   "claude-sonnet-4-5-20250929",
			RecoveryModel:  "claude-haiku-4-5-20251001",
			EditorialModel: "claude-sonnet-4-5-20250929",
		},
		Facts: config.FactsConfig{TimeoutSecs: 5},
		Pipeline: config.PipelineConfig{
			CoverageThreshold:     3,
			RecoveryConcurrency:   4,
			ExtractionTimeoutSecs: 30,
			RecoveryTimeoutSecs:   30,
			SynthesisTimeoutSecs:  30,
			HeartbeatSecs:         0,
			ExcerptBudgetChars:    48000,
			RecoveryExcerptChars:  12000,
		},
	}
}

func testDoc() model.FilingDocument {
	return model.FilingDocument{
		AccessionNumber: "0000320193-25-000001",
		CIK:             "320193",
		CompanyName:     "Acme Corp",
		Ticker:          "ACME",
		FilingType:      "10-K",
		PeriodEnd:       time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		Text:            "Item 1. Business. Acme Corp makes widgets. Item 1A. Risk Factors. Competition.",
	}
}
