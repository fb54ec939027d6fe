package model

import "github.com/rotisserie/eris"

// Pipeline error taxonomy. Each failure class is contained at the smallest
// possible scope; only total failure across every stage propagates as a
// top-level pipeline error.
var (
	// ErrExtractionFailure marks a failed or unparseable primary extraction.
	// Non-fatal: the run proceeds with an empty summary so recovery can
	// attempt full reconstruction.
	ErrExtractionFailure = eris.New("extraction failure")

	// ErrRecoveryFailure marks a failed per-section recovery task. Isolated
	// to that task.
	ErrRecoveryFailure = eris.New("recovery failure")

	// ErrSynthesisFailure marks a failed or invalid editorial call. Triggers
	// the deterministic template fallback.
	ErrSynthesisFailure = eris.New("synthesis failure")

	// ErrMetricsFetch marks a failed financial-facts fetch. Treated as data
	// unavailable, never raised upward.
	ErrMetricsFetch = eris.New("metrics fetch failure")

	// ErrTimeoutExceeded marks a stage exceeding its wall-clock budget. The
	// run proceeds to evaluation with whatever was gathered.
	ErrTimeoutExceeded = eris.New("stage timeout exceeded")
)
