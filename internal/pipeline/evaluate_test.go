package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/filing-summary/internal/model"
)

func TestComputeCoverage(t *testing.T) {
	summary := model.StructuredSummary{
		model.SectionExecutiveOverview:   "Overview.", // mandatory, excluded from counts
		model.SectionBusinessOverview:    "Business.",
		model.SectionRiskFactors:         []any{"risk"},
		model.SectionFinancialHighlights: map[string]any{"revenue": "$1B"},
		model.SectionGuidanceOutlook:     "", // empty string is absent
	}

	cov := ComputeCoverage(summary)
	assert.Equal(t, 3, cov.CoveredCount)
	assert.Equal(t, 7, cov.TotalCount)
	assert.InDelta(t, 3.0/7.0, cov.CoverageRatio, 1e-9)
	assert.Equal(t, []string{
		model.SectionMDAndA,
		model.SectionLiquidityCapital,
		model.SectionGuidanceOutlook,
		model.SectionLegalProceedings,
	}, cov.MissingKeys)
}

func TestComputeCoverageIsPure(t *testing.T) {
	summary := model.StructuredSummary{
		model.SectionBusinessOverview: "Business.",
	}
	first := ComputeCoverage(summary)
	second := ComputeCoverage(summary)
	assert.Equal(t, first, second)
	// Evaluation left the summary untouched.
	assert.Len(t, summary, 1)
}

func TestEvaluateGate(t *testing.T) {
	tests := []struct {
		name       string
		in         GateInput
		wantType   model.ResultType
		wantReason model.PartialReason
	}{
		{
			name:     "at threshold is full",
			in:       GateInput{Coverage: model.SectionCoverage{CoveredCount: 3, TotalCount: 7}, Threshold: 3},
			wantType: model.ResultTypeFull,
		},
		{
			name:     "above threshold is full even after timeout",
			in:       GateInput{Coverage: model.SectionCoverage{CoveredCount: 7, TotalCount: 7}, Threshold: 3, StageTimedOut: true},
			wantType: model.ResultTypeFull,
		},
		{
			name:       "below threshold defaults to insufficient data",
			in:         GateInput{Coverage: model.SectionCoverage{CoveredCount: 1, TotalCount: 7}, Threshold: 3},
			wantType:   model.ResultTypePartial,
			wantReason: model.PartialReasonInsufficientData,
		},
		{
			name:       "timeout outranks upstream error",
			in:         GateInput{Coverage: model.SectionCoverage{CoveredCount: 0, TotalCount: 7}, Threshold: 3, StageTimedOut: true, UpstreamFailed: true},
			wantType:   model.ResultTypePartial,
			wantReason: model.PartialReasonTimeout,
		},
		{
			name:       "upstream error when every call failed",
			in:         GateInput{Coverage: model.SectionCoverage{CoveredCount: 0, TotalCount: 7}, Threshold: 3, UpstreamFailed: true},
			wantType:   model.ResultTypePartial,
			wantReason: model.PartialReasonUpstreamError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotType, gotReason := EvaluateGate(tt.in)
			assert.Equal(t, tt.wantType, gotType)
			assert.Equal(t, tt.wantReason, gotReason)
		})
	}
}
