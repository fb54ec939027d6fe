package model

import "strings"

// SectionKind tags the expected payload shape for a section.
type SectionKind string

const (
	SectionKindText   SectionKind = "text"
	SectionKindList   SectionKind = "list"
	SectionKindObject SectionKind = "object"
)

// Section keys. ExecutiveOverview is mandatory and always rendered; the
// remaining seven are "hideable" and count toward coverage.
const (
	SectionExecutiveOverview   = "executive_overview"
	SectionBusinessOverview    = "business_overview"
	SectionFinancialHighlights = "financial_highlights"
	SectionMDAndA              = "md_and_a"
	SectionRiskFactors         = "risk_factors"
	SectionLiquidityCapital    = "liquidity_capital"
	SectionGuidanceOutlook     = "guidance_outlook"
	SectionLegalProceedings    = "legal_proceedings"
)

// SectionSpec describes one section of the structured summary: its payload
// shape, the prompt fragment used when recovering it in isolation, and the
// sentence the editorial template uses when the section is absent.
type SectionSpec struct {
	Key         string
	Title       string
	Kind        SectionKind
	Hideable    bool
	Instruction string
	AbsenceNote string
}

// Sections is the ordered registry of summary sections. Order here is the
// render order of the editorial narrative.
var Sections = []SectionSpec{
	{
		Key:         SectionExecutiveOverview,
		Title:       "Executive Overview",
		Kind:        SectionKindText,
		Hideable:    false,
		Instruction: "Write a two-to-four sentence neutral overview of what this filing reports: the company, the period covered, and the most significant disclosed developments.",
		AbsenceNote: "",
	},
	{
		Key:         SectionBusinessOverview,
		Title:       "Business Overview",
		Kind:        SectionKindText,
		Hideable:    true,
		Instruction: "Describe the company's business, principal products or services, and operating segments as disclosed in the filing.",
		AbsenceNote: "The filing does not include a business description for this period.",
	},
	{
		Key:         SectionFinancialHighlights,
		Title:       "Financial Highlights",
		Kind:        SectionKindObject,
		Hideable:    true,
		Instruction: "Extract the headline reported figures (revenue, net income, EPS, cash and equivalents, total debt) as a JSON object keyed by metric name, values as disclosed strings including units.",
		AbsenceNote: "No headline financial figures were identified in this filing.",
	},
	{
		Key:         SectionMDAndA,
		Title:       "Management's Discussion & Analysis",
		Kind:        SectionKindText,
		Hideable:    true,
		Instruction: "Summarize management's discussion of results of operations: period-over-period drivers, margin commentary, and segment performance, using only statements made in the filing.",
		AbsenceNote: "No management discussion and analysis was disclosed for this period.",
	},
	{
		Key:         SectionRiskFactors,
		Title:       "Risk Factors",
		Kind:        SectionKindList,
		Hideable:    true,
		Instruction: "List the most significant risk factors disclosed in the filing as a JSON array of short strings, one risk per entry.",
		AbsenceNote: "No risk factors were disclosed in this filing.",
	},
	{
		Key:         SectionLiquidityCapital,
		Title:       "Liquidity & Capital Resources",
		Kind:        SectionKindText,
		Hideable:    true,
		Instruction: "Summarize the company's disclosed liquidity position, cash flows, credit facilities, and capital allocation activity.",
		AbsenceNote: "The filing does not discuss liquidity or capital resources for this period.",
	},
	{
		Key:         SectionGuidanceOutlook,
		Title:       "Guidance & Outlook",
		Kind:        SectionKindText,
		Hideable:    true,
		Instruction: "State any forward-looking guidance or outlook the company itself provides, quoted or closely paraphrased. Do not infer or predict.",
		AbsenceNote: "No guidance was disclosed for this period.",
	},
	{
		Key:         SectionLegalProceedings,
		Title:       "Legal Proceedings",
		Kind:        SectionKindList,
		Hideable:    true,
		Instruction: "List material legal proceedings disclosed in the filing as a JSON array of short strings. Return an empty array if none are disclosed.",
		AbsenceNote: "No material legal proceedings were disclosed.",
	},
}

// SectionByKey returns the spec for a key, or nil if unknown.
func SectionByKey(key string) *SectionSpec {
	for i := range Sections {
		if Sections[i].Key == key {
			return &Sections[i]
		}
	}
	return nil
}

// HideableSections returns the specs that count toward coverage.
func HideableSections() []SectionSpec {
	out := make([]SectionSpec, 0, len(Sections)-1)
	for _, s := range Sections {
		if s.Hideable {
			out = append(out, s)
		}
	}
	return out
}

// IsPresent reports whether a section value carries content. Empty strings,
// whitespace-only strings, empty lists, and empty objects are all absent.
// Every emptiness check in the pipeline goes through this predicate; ad hoc
// truthiness checks on section values are a known defect class.
func IsPresent(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(val) != ""
	case []any:
		return len(val) > 0
	case []string:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}
