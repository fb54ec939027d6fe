package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/filing-summary/internal/config"
	"github.com/sells-group/filing-summary/internal/model"
	"github.com/sells-group/filing-summary/pkg/anthropic"
	"github.com/sells-group/filing-summary/pkg/facts"
)

const extractSystemText = `You are a financial filings analyst producing a structured summary of a regulatory filing. Return a single valid JSON object whose keys are the requested section identifiers. Use only statements made in the filing; never speculate. Omit a key entirely if the filing does not support it.`

const extractPrompt = `Summarize the following filing into a JSON object with these sections:

%s
%s
Filing: %s %s (period ending %s)
Filing text:
%s

Return valid JSON. Omit any section the filing does not support.`

// headlineConcepts maps standardized facts concepts to the metric names used
// in the financial_highlights section. Listed in preference order per metric.
var headlineConcepts = []struct {
	concept string
	metric  string
}{
	{"us-gaap:Revenues", "revenue"},
	{"us-gaap:RevenueFromContractWithCustomerExcludingAssessedTax", "revenue"},
	{"us-gaap:NetIncomeLoss", "net_income"},
	{"us-gaap:EarningsPerShareDiluted", "eps_diluted"},
	{"us-gaap:CashAndCashEquivalentsAtCarryingValue", "cash_and_equivalents"},
	{"us-gaap:LongTermDebtNoncurrent", "total_debt"},
}

// ExtractResult carries the structured extraction output.
type ExtractResult struct {
	Summary     model.StructuredSummary
	Usage       model.TokenUsage
	FactsSeeded bool
}

// ExtractStage runs the primary structured extraction: one schema-bound
// completion over the filing text, validated section by section. Standardized
// facts for the filing, when available, are injected as authoritative context
// and used to backfill financial_highlights if the model omits it.
func ExtractStage(
	ctx context.Context,
	doc model.FilingDocument,
	companyFacts *facts.CompanyFacts,
	ai anthropic.Client,
	cfg config.AnthropicConfig,
	pipeCfg config.PipelineConfig,
) (*ExtractResult, error) {
	var sections strings.Builder
	for _, spec := range model.Sections {
		fmt.Fprintf(&sections, "- %q (%s): %s\n", spec.Key, spec.Kind, spec.Instruction)
	}

	factsBlock := formatFactsContext(companyFacts, doc.AccessionNumber)
	if factsBlock != "" {
		factsBlock = "\n" + factsBlock + "\n"
	}

	prompt := fmt.Sprintf(extractPrompt,
		sections.String(),
		factsBlock,
		companyLabel(doc),
		doc.FilingType,
		doc.PeriodEnd.Format("2006-01-02"),
		truncateText(doc.Text, pipeCfg.ExcerptBudgetChars),
	)

	resp, err := ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     cfg.ExtractModel,
		MaxTokens: 8192,
		System:    anthropic.BuildCachedSystemBlocks(extractSystemText),
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, eris.Wrap(model.ErrExtractionFailure, err.Error())
	}

	usage := model.TokenUsage{
		InputTokens:         int(resp.Usage.InputTokens),
		OutputTokens:        int(resp.Usage.OutputTokens),
		CacheCreationTokens: int(resp.Usage.CacheCreationInputTokens),
		CacheReadTokens:     int(resp.Usage.CacheReadInputTokens),
	}
	resp.Usage.LogCost(cfg.ExtractModel, "extract")

	raw, err := parseSummaryJSON(resp.Text())
	if err != nil {
		return &ExtractResult{Summary: model.StructuredSummary{}, Usage: usage},
			eris.Wrap(model.ErrExtractionFailure, err.Error())
	}

	result := &ExtractResult{
		Summary: validateSummary(raw),
		Usage:   usage,
	}

	// The facts provider is authoritative for headline figures. If extraction
	// produced nothing for financial_highlights, seed it directly.
	if !model.IsPresent(result.Summary[model.SectionFinancialHighlights]) {
		if seeded := factsHighlights(companyFacts, doc.AccessionNumber); len(seeded) > 0 {
			result.Summary[model.SectionFinancialHighlights] = seeded
			result.FactsSeeded = true
			zap.L().Info("extract: seeded financial highlights from facts",
				zap.String("accession", doc.AccessionNumber),
				zap.Int("metrics", len(seeded)),
			)
		}
	}

	return result, nil
}

// formatFactsContext renders standardized facts as a context block for the
// extraction prompt. Returns "" when no facts are available.
func formatFactsContext(cf *facts.CompanyFacts, accession string) string {
	highlights := factsHighlights(cf, accession)
	if len(highlights) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("--- Standardized Reported Figures (authoritative) ---\n")
	for _, hc := range headlineConcepts {
		if v, ok := highlights[hc.metric]; ok {
			fmt.Fprintf(&b, "%s: %v\n", hc.metric, v)
			delete(highlights, hc.metric)
		}
	}
	return b.String()
}

// factsHighlights extracts the headline metrics relevant to this filing from
// the standardized facts, preferring data points reported in the filing's
// own accession.
func factsHighlights(cf *facts.CompanyFacts, accession string) map[string]any {
	if cf == nil {
		return nil
	}
	out := make(map[string]any)
	for _, hc := range headlineConcepts {
		if _, taken := out[hc.metric]; taken {
			continue
		}
		series, ok := cf.Concepts[hc.concept]
		if !ok {
			continue
		}
		point, ok := series.LatestFor(accession)
		if !ok {
			continue
		}
		out[hc.metric] = fmt.Sprintf("%s %s (period ending %s)", formatFactValue(point.Value), series.Unit, point.End)
	}
	return out
}

func formatFactValue(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}

func companyLabel(doc model.FilingDocument) string {
	if doc.Ticker != "" {
		return doc.CompanyName + " (" + doc.Ticker + ")"
	}
	return doc.CompanyName
}

// truncateText caps filing text at budget characters, cutting at a line
// boundary where possible.
func truncateText(text string, budget int) string {
	if budget <= 0 || len(text) <= budget {
		return text
	}
	cut := text[:budget]
	if idx := strings.LastIndex(cut, "\n"); idx > budget/2 {
		cut = cut[:idx]
	}
	return cut
}
