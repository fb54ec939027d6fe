package model

// RecoveryStatus tracks the lifecycle of a per-section recovery task.
type RecoveryStatus string

const (
	RecoveryStatusPending RecoveryStatus = "pending"
	RecoveryStatusSuccess RecoveryStatus = "success"
	RecoveryStatusFailed  RecoveryStatus = "failed"
)

// RecoveryTask is an isolated repair call for one missing section. Tasks are
// created at orchestration time and destroyed once merged; a failed task
// never affects its siblings.
type RecoveryTask struct {
	SectionKey    string         `json:"section_key"`
	Status        RecoveryStatus `json:"status"`
	Value         any            `json:"value,omitempty"`
	FailureReason string         `json:"failure_reason,omitempty"`
}

// EditorialResult is the narrative rendering of a structured summary.
type EditorialResult struct {
	Markdown       string `json:"markdown"`
	FallbackUsed   bool   `json:"fallback_used"`
	FallbackReason string `json:"fallback_reason,omitempty"`
}

// ResultType classifies a summary as publishable or ephemeral.
type ResultType string

const (
	ResultTypeFull    ResultType = "full"
	ResultTypePartial ResultType = "partial"
)

// PartialReason explains why a result was classified partial.
type PartialReason string

const (
	PartialReasonTimeout          PartialReason = "timeout"
	PartialReasonUpstreamError    PartialReason = "upstream_error"
	PartialReasonInsufficientData PartialReason = "insufficient_data"
)

// SummaryResult is the terminal artifact of one pipeline run. A full result
// may be persisted and reused; a partial result is delivered once to the
// originating caller and then discarded.
type SummaryResult struct {
	RunID         string            `json:"run_id"`
	Accession     string            `json:"accession"`
	ResultType    ResultType        `json:"result_type"`
	Summary       StructuredSummary `json:"structured_summary"`
	Editorial     EditorialResult   `json:"editorial_result"`
	Coverage      SectionCoverage   `json:"coverage"`
	PartialReason PartialReason     `json:"partial_reason,omitempty"`
	TokenUsage    TokenUsage        `json:"token_usage"`
	Stages        []StageResult     `json:"stages,omitempty"`
}

// PersistedSummary is the durable record written for full results only.
type PersistedSummary struct {
	Accession    string            `json:"accession"`
	Summary      StructuredSummary `json:"structured_summary"`
	Editorial    string            `json:"editorial_markdown"`
	Coverage     SectionCoverage   `json:"coverage_snapshot"`
	FallbackUsed bool              `json:"fallback_marker"`
	CreatedAt    string            `json:"created_at,omitempty"`
}
