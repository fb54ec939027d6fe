package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/filing-summary/internal/config"
	"github.com/sells-group/filing-summary/internal/model"
	"github.com/sells-group/filing-summary/pkg/anthropic"
)

const editorialSystemText = `You are a financial editor turning a structured filing summary into a clear narrative for a professional reader. Write plain markdown with section headings. Report only what the structured summary contains; never add figures or claims of your own. When a section is marked absent, state its absence in one neutral sentence.`

const editorialPrompt = `Write an editorial narrative in markdown for this filing summary.

Filing: %s %s (period ending %s)

Structured summary (JSON):
%s

Sections marked absent:
%s

Cover every present section under its own heading, in the order given. For each absent section, include the corresponding absence sentence:
%s`

// numPrinter renders figures with locale-aware digit grouping.
var numPrinter = message.NewPrinter(language.AmericanEnglish)

// SynthesizeStage renders the structured summary as an editorial narrative.
// The synthesis model failing or timing out is not fatal: the stage falls
// back to a deterministic template so a narrative is always produced.
func SynthesizeStage(
	ctx context.Context,
	doc model.FilingDocument,
	summary model.StructuredSummary,
	ai anthropic.Client,
	cfg config.AnthropicConfig,
) (model.EditorialResult, model.TokenUsage) {
	var usage model.TokenUsage

	summaryJSON, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fallbackEditorial(doc, summary, "marshal summary: "+err.Error()), usage
	}

	var absentKeys, absentNotes []string
	for _, spec := range model.HideableSections() {
		if !model.IsPresent(summary[spec.Key]) {
			absentKeys = append(absentKeys, spec.Key)
			absentNotes = append(absentNotes, "- "+spec.AbsenceNote)
		}
	}
	absent := "(none)"
	notes := "(none)"
	if len(absentKeys) > 0 {
		absent = strings.Join(absentKeys, ", ")
		notes = strings.Join(absentNotes, "\n")
	}

	prompt := fmt.Sprintf(editorialPrompt,
		companyLabel(doc), doc.FilingType, doc.PeriodEnd.Format("2006-01-02"),
		string(summaryJSON),
		absent,
		notes,
	)

	resp, err := ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     cfg.EditorialModel,
		MaxTokens: 4096,
		System:    anthropic.BuildCachedSystemBlocks(editorialSystemText),
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if resp != nil {
		usage = model.TokenUsage{
			InputTokens:         int(resp.Usage.InputTokens),
			OutputTokens:        int(resp.Usage.OutputTokens),
			CacheCreationTokens: int(resp.Usage.CacheCreationInputTokens),
			CacheReadTokens:     int(resp.Usage.CacheReadInputTokens),
		}
		resp.Usage.LogCost(cfg.EditorialModel, "editorial")
	}
	if err != nil {
		serr := eris.Wrap(model.ErrSynthesisFailure, err.Error())
		zap.L().Warn("editorial: synthesis failed, using template fallback", zap.Error(serr))
		return fallbackEditorial(doc, summary, serr.Error()), usage
	}

	markdown := strings.TrimSpace(resp.Text())
	if markdown == "" {
		return fallbackEditorial(doc, summary, "empty synthesis response"), usage
	}

	return model.EditorialResult{Markdown: markdown}, usage
}

// fallbackEditorial renders the structured summary through a fixed template.
// Deterministic and model-free: every present section in registry order,
// every absent hideable section noted with its absence sentence.
func fallbackEditorial(doc model.FilingDocument, summary model.StructuredSummary, reason string) model.EditorialResult {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s %s Summary\n\n", companyLabel(doc), doc.FilingType)
	if !doc.PeriodEnd.IsZero() {
		fmt.Fprintf(&b, "Period ending %s.\n\n", doc.PeriodEnd.Format("January 2, 2006"))
	}

	for _, spec := range model.Sections {
		val := summary[spec.Key]
		if !model.IsPresent(val) {
			if spec.Hideable && spec.AbsenceNote != "" {
				fmt.Fprintf(&b, "## %s\n\n%s\n\n", spec.Title, spec.AbsenceNote)
			}
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", spec.Title, renderSectionValue(val))
	}

	return model.EditorialResult{
		Markdown:       strings.TrimSpace(b.String()) + "\n",
		FallbackUsed:   true,
		FallbackReason: reason,
	}
}

// renderSectionValue formats a validated section payload as markdown.
func renderSectionValue(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case []any:
		var b strings.Builder
		for _, item := range v {
			fmt.Fprintf(&b, "- %s\n", renderScalar(item))
		}
		return strings.TrimRight(b.String(), "\n")
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			fmt.Fprintf(&b, "- **%s**: %s\n", strings.ReplaceAll(k, "_", " "), renderScalar(v[k]))
		}
		return strings.TrimRight(b.String(), "\n")
	default:
		return renderScalar(val)
	}
}

// renderScalar formats a leaf value, grouping digits in bare numbers.
func renderScalar(v any) string {
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return numPrinter.Sprintf("%d", int64(n))
		}
		return numPrinter.Sprintf("%.2f", n)
	case int:
		return numPrinter.Sprintf("%d", n)
	case int64:
		return numPrinter.Sprintf("%d", n)
	default:
		return fmt.Sprintf("%v", v)
	}
}
