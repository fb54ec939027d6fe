package model

// ProgressStage identifies a coarse pipeline stage for progress streaming.
type ProgressStage string

const (
	StageQueued      ProgressStage = "queued"
	StageFetching    ProgressStage = "fetching"
	StageParsing     ProgressStage = "parsing"
	StageAnalyzing   ProgressStage = "analyzing"
	StageSummarizing ProgressStage = "summarizing"
	StageCompleted   ProgressStage = "completed"
	StageError       ProgressStage = "error"
)

// ProgressEvent is emitted on every stage transition and as a periodic
// heartbeat during long-running stages. Events for one listener are
// delivered in strict chronological order.
type ProgressEvent struct {
	Stage          ProgressStage `json:"stage"`
	Message        string        `json:"message"`
	ElapsedSeconds float64       `json:"elapsed_seconds"`
	Heartbeat      bool          `json:"heartbeat,omitempty"`
}
