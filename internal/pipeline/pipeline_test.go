package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/filing-summary/internal/model"
	"github.com/sells-group/filing-summary/pkg/anthropic"
)

// requestKind classifies a scripted request by its prompt shape.
func requestKind(req anthropic.MessageRequest) string {
	content := req.Messages[0].Content
	switch {
	case strings.HasPrefix(content, "Summarize the following filing"):
		return "extract"
	case strings.HasPrefix(content, "From the filing text below"):
		return "recover"
	case strings.HasPrefix(content, "Write an editorial narrative"):
		return "editorial"
	}
	return "unknown"
}

func TestRunScenarioRecoveryLiftsCoverageToFull(t *testing.T) {
	cfg := testConfig()
	st := newMemStore()

	ai := &fakeAI{handler: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		switch requestKind(req) {
		case "extract":
			// 3 of 7 hideable sections.
			return jsonResponse(map[string]any{
				model.SectionExecutiveOverview:   "Overview.",
				model.SectionBusinessOverview:    "Business.",
				model.SectionFinancialHighlights: map[string]any{"revenue": "$1.2B"},
				model.SectionRiskFactors:         []string{"competition"},
			}), nil
		case "recover":
			// Only MD&A recovers; everything else comes back empty.
			key := sectionKeyFromRequest(req)
			if key == model.SectionMDAndA {
				return jsonResponse(map[string]any{key: "Margins expanded."}), nil
			}
			return jsonResponse(map[string]any{key: nil}), nil
		case "editorial":
			return textResponse("# Acme Corp\n\nNarrative."), nil
		}
		return nil, eris.New("unexpected request")
	}}

	p := New(cfg, st, ai, nil)
	result, err := p.Run(context.Background(), testDoc())
	require.NoError(t, err)

	assert.Equal(t, model.ResultTypeFull, result.ResultType)
	assert.Empty(t, result.PartialReason)
	assert.Equal(t, 4, result.Coverage.CoveredCount)
	assert.Equal(t, 7, result.Coverage.TotalCount)
	assert.Equal(t, "Margins expanded.", result.Summary[model.SectionMDAndA])
	assert.False(t, result.Editorial.FallbackUsed)

	// Full results are persisted for reuse.
	ps, err := st.GetSummary(context.Background(), result.Accession)
	require.NoError(t, err)
	require.NotNil(t, ps)
	assert.Equal(t, 4, ps.Coverage.CoveredCount)

	run, err := st.GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusPersisted, run.Status)
}

func TestRunScenarioExtractionFailureYieldsPartial(t *testing.T) {
	cfg := testConfig()
	st := newMemStore()

	ai := &fakeAI{handler: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		switch requestKind(req) {
		case "extract":
			return nil, eris.New("overloaded")
		case "recover":
			key := sectionKeyFromRequest(req)
			if key == model.SectionBusinessOverview {
				return jsonResponse(map[string]any{key: "Business."}), nil
			}
			return jsonResponse(map[string]any{key: nil}), nil
		case "editorial":
			return textResponse("# Acme Corp\n\nThin narrative."), nil
		}
		return nil, eris.New("unexpected request")
	}}

	p := New(cfg, st, ai, nil)
	result, err := p.Run(context.Background(), testDoc())
	require.NoError(t, err, "a failed extraction degrades, it does not abort")

	assert.Equal(t, model.ResultTypePartial, result.ResultType)
	assert.Equal(t, model.PartialReasonInsufficientData, result.PartialReason)
	assert.Equal(t, 1, result.Coverage.CoveredCount)

	// Partial results are delivered once and never persisted.
	ps, err := st.GetSummary(context.Background(), result.Accession)
	require.NoError(t, err)
	assert.Nil(t, ps)

	run, err := st.GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusDiscarded, run.Status)
	assert.Nil(t, run.Result, "partial content must not reach the run record")
}

func TestRunScenarioEditorialTimeoutStillFull(t *testing.T) {
	cfg := testConfig()
	st := newMemStore()

	complete := map[string]any{}
	for _, spec := range model.Sections {
		complete[spec.Key] = recoveryValueFor(spec.Key)
	}

	ai := &fakeAI{handler: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		switch requestKind(req) {
		case "extract":
			return jsonResponse(complete), nil
		case "editorial":
			return nil, context.DeadlineExceeded
		}
		return nil, eris.New("unexpected request")
	}}

	p := New(cfg, st, ai, nil)
	result, err := p.Run(context.Background(), testDoc())
	require.NoError(t, err)

	// Coverage is independent of editorial success.
	assert.Equal(t, model.ResultTypeFull, result.ResultType)
	assert.Equal(t, 7, result.Coverage.CoveredCount)
	assert.True(t, result.Editorial.FallbackUsed)
	assert.NotEmpty(t, result.Editorial.Markdown)

	ps, err := st.GetSummary(context.Background(), result.Accession)
	require.NoError(t, err)
	require.NotNil(t, ps)
	assert.True(t, ps.FallbackUsed)
}

func TestRunEmitsOrderedProgress(t *testing.T) {
	cfg := testConfig()
	st := newMemStore()

	complete := map[string]any{}
	for _, spec := range model.Sections {
		complete[spec.Key] = recoveryValueFor(spec.Key)
	}

	ai := &fakeAI{handler: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		if requestKind(req) == "extract" {
			return jsonResponse(complete), nil
		}
		return textResponse("# Narrative"), nil
	}}

	var mu sync.Mutex
	var events []model.ProgressEvent
	p := New(cfg, st, ai, nil)
	_, err := p.Run(context.Background(), testDoc(), func(ev model.ProgressEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NotEmpty(t, events)
	assert.Equal(t, model.StageQueued, events[0].Stage)
	assert.Equal(t, model.StageCompleted, events[len(events)-1].Stage)
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].ElapsedSeconds, events[i-1].ElapsedSeconds)
	}
}

func TestGetOrRunServesPersistedSummary(t *testing.T) {
	cfg := testConfig()
	st := newMemStore()
	doc := testDoc()

	require.NoError(t, st.PutSummary(context.Background(), &model.SummaryResult{
		Accession:  doc.AccessionNumber,
		ResultType: model.ResultTypeFull,
		Summary:    model.StructuredSummary{model.SectionExecutiveOverview: "Cached overview."},
		Editorial:  model.EditorialResult{Markdown: "# Cached"},
		Coverage:   model.SectionCoverage{CoveredCount: 7, TotalCount: 7, CoverageRatio: 1},
	}))

	ai := &fakeAI{handler: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		t.Fatal("no AI calls expected for a persisted summary")
		return nil, nil
	}}

	p := New(cfg, st, ai, nil)
	result, err := p.GetOrRun(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, model.ResultTypeFull, result.ResultType)
	assert.Equal(t, "# Cached", result.Editorial.Markdown)
}

func TestRunUsesFactsSource(t *testing.T) {
	cfg := testConfig()
	st := newMemStore()

	ai := &fakeAI{handler: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		switch requestKind(req) {
		case "extract":
			assert.Contains(t, req.Messages[0].Content, "Standardized Reported Figures")
			return jsonResponse(map[string]any{model.SectionExecutiveOverview: "Overview."}), nil
		case "recover":
			key := sectionKeyFromRequest(req)
			return jsonResponse(map[string]any{key: recoveryValueFor(key)}), nil
		case "editorial":
			return textResponse("# Narrative"), nil
		}
		return nil, eris.New("unexpected request")
	}}

	p := New(cfg, st, ai, &stubFacts{cf: sampleCompanyFacts()})
	result, err := p.Run(context.Background(), testDoc())
	require.NoError(t, err)
	assert.Contains(t, result.Summary, model.SectionFinancialHighlights)
}

func TestRunExtractionTimeoutReportsTimeoutReason(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.ExtractionTimeoutSecs = 1
	st := newMemStore()
	doc := testDoc()

	ai := &fakeAI{handler: func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		switch requestKind(req) {
		case "extract":
			// Block until the stage deadline and fail the way the real client
			// does: a wrapped error whose message hides the deadline cause.
			<-ctx.Done()
			return nil, eris.Wrap(ctx.Err(), "anthropic: create message")
		case "recover":
			return nil, eris.New("overloaded")
		default:
			return textResponse("# Narrative"), nil
		}
	}}

	p := New(cfg, st, ai, nil)
	result, err := p.Run(context.Background(), doc)
	require.NoError(t, err)

	// The deadline expiry outranks the upstream failures in the gate.
	assert.Equal(t, model.ResultTypePartial, result.ResultType)
	assert.Equal(t, model.PartialReasonTimeout, result.PartialReason)

	ps, err := st.GetSummary(context.Background(), doc.AccessionNumber)
	require.NoError(t, err)
	assert.Nil(t, ps)
}
