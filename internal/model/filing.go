package model

import "time"

// FilingDocument is a parsed regulatory filing handed in by the retrieval
// layer. It is immutable for the lifetime of a pipeline run.
type FilingDocument struct {
	AccessionNumber string    `json:"accession_number"`
	CIK             string    `json:"cik"`
	CompanyName     string    `json:"company_name"`
	Ticker          string    `json:"ticker,omitempty"`
	FilingType      string    `json:"filing_type"` // "10-K", "10-Q", "8-K", ...
	PeriodEnd       time.Time `json:"period_end,omitempty"`
	FiledAt         time.Time `json:"filed_at,omitempty"`
	Text            string    `json:"text"`
}

// Run represents a single summary-generation run for a filing.
type Run struct {
	ID         string         `json:"id"`
	Accession  string         `json:"accession"`
	FilingType string         `json:"filing_type"`
	Status     RunStatus      `json:"status"`
	Result     *SummaryResult `json:"result,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// RunStatus tracks the pipeline state machine for a run.
type RunStatus string

const (
	RunStatusPending        RunStatus = "pending"
	RunStatusExtractionDone RunStatus = "extraction_done"
	RunStatusRecoveryDone   RunStatus = "recovery_done"
	RunStatusSynthesisDone  RunStatus = "synthesis_done"
	RunStatusEvaluated      RunStatus = "evaluated"
	RunStatusDelivered      RunStatus = "delivered"
	RunStatusPersisted      RunStatus = "persisted"
	RunStatusDiscarded      RunStatus = "discarded"
	RunStatusFailed         RunStatus = "failed"
)

// StageResult records the outcome of one pipeline stage.
type StageResult struct {
	Name       string         `json:"name"`
	Status     StageStatus    `json:"status"`
	Duration   int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
	TokenUsage TokenUsage     `json:"token_usage,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// StageStatus represents the current state of a pipeline stage.
type StageStatus string

const (
	StageStatusRunning  StageStatus = "running"
	StageStatusComplete StageStatus = "complete"
	StageStatusFailed   StageStatus = "failed"
	StageStatusSkipped  StageStatus = "skipped"
)

// TokenUsage accumulates token consumption across AI calls.
type TokenUsage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_tokens"`
	CacheReadTokens     int `json:"cache_read_tokens"`
}

// Add accumulates another usage into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationTokens += other.CacheCreationTokens
	u.CacheReadTokens += other.CacheReadTokens
}
