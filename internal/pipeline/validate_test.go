package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/filing-summary/internal/model"
)

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"leading prose", "Here is the summary:\n{\"a\":1}\nDone.", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanJSON(tt.input))
		})
	}
}

func TestParseSummaryJSONLenientRepair(t *testing.T) {
	// Truncated mid-entry: strict parse fails, dropping the last line recovers.
	truncated := "{\n\"executive_overview\": \"Overview.\",\n\"business_overview\": \"Busin"

	raw, err := parseSummaryJSON(truncated)
	require.NoError(t, err)
	assert.Equal(t, "Overview.", raw["executive_overview"])

	_, err = parseSummaryJSON("not json at all")
	assert.Error(t, err)
}

func TestValidateSection(t *testing.T) {
	textSpec := *model.SectionByKey(model.SectionBusinessOverview)
	listSpec := *model.SectionByKey(model.SectionRiskFactors)
	objSpec := *model.SectionByKey(model.SectionFinancialHighlights)

	v, err := validateSection(textSpec, "  some text  ")
	require.NoError(t, err)
	assert.Equal(t, "some text", v)

	_, err = validateSection(textSpec, "   ")
	assert.Error(t, err)

	_, err = validateSection(textSpec, []any{"not", "text"})
	assert.Error(t, err)

	v, err = validateSection(listSpec, []any{"risk one", " ", "risk two"})
	require.NoError(t, err)
	assert.Equal(t, []any{"risk one", "risk two"}, v)

	// A lone string coerces to a one-item list.
	v, err = validateSection(listSpec, "single risk")
	require.NoError(t, err)
	assert.Equal(t, []any{"single risk"}, v)

	_, err = validateSection(listSpec, []any{"", "  "})
	assert.Error(t, err)

	v, err = validateSection(objSpec, map[string]any{"revenue": "$1.2B"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"revenue": "$1.2B"}, v)

	_, err = validateSection(objSpec, map[string]any{})
	assert.Error(t, err)
}

func TestValidateSummaryDropsUnknownAndMalformed(t *testing.T) {
	raw := map[string]any{
		model.SectionExecutiveOverview: "Overview.",
		model.SectionRiskFactors:       []any{"risk"},
		model.SectionGuidanceOutlook:   "",            // empty, dropped
		model.SectionMDAndA:            []any{"list"}, // wrong kind, dropped
		"made_up_section":              "ignored",
	}

	out := validateSummary(raw)
	assert.Len(t, out, 2)
	assert.Contains(t, out, model.SectionExecutiveOverview)
	assert.Contains(t, out, model.SectionRiskFactors)
}
