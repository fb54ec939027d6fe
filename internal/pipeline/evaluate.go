package pipeline

import (
	"github.com/sells-group/filing-summary/internal/model"
)

// ComputeCoverage derives section coverage by re-scanning the summary's
// hideable sections. Pure: same summary in, same coverage out, no state.
func ComputeCoverage(summary model.StructuredSummary) model.SectionCoverage {
	specs := model.HideableSections()
	cov := model.SectionCoverage{TotalCount: len(specs)}
	for _, spec := range specs {
		if model.IsPresent(summary[spec.Key]) {
			cov.CoveredCount++
		} else {
			cov.MissingKeys = append(cov.MissingKeys, spec.Key)
		}
	}
	if cov.TotalCount > 0 {
		cov.CoverageRatio = float64(cov.CoveredCount) / float64(cov.TotalCount)
	}
	return cov
}

// GateInput captures the stage outcomes the quality gate weighs alongside
// coverage when classifying a result.
type GateInput struct {
	Coverage       model.SectionCoverage
	Threshold      int
	StageTimedOut  bool
	UpstreamFailed bool
}

// EvaluateGate classifies a result as full or partial. Coverage at or above
// the threshold is full regardless of how it was assembled: a recovered
// section counts the same as one the primary extraction produced, and a
// fallback narrative does not demote an otherwise complete summary. Below
// threshold, the reason reflects the most specific known cause.
func EvaluateGate(in GateInput) (model.ResultType, model.PartialReason) {
	threshold := in.Threshold
	if threshold <= 0 {
		threshold = 3
	}
	if in.Coverage.CoveredCount >= threshold {
		return model.ResultTypeFull, ""
	}

	switch {
	case in.StageTimedOut:
		return model.ResultTypePartial, model.PartialReasonTimeout
	case in.UpstreamFailed:
		return model.ResultTypePartial, model.PartialReasonUpstreamError
	default:
		return model.ResultTypePartial, model.PartialReasonInsufficientData
	}
}
