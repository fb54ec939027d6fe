package model

// StructuredSummary maps section keys to validated section payloads. Absent
// keys are allowed. A summary is exclusively owned by the pipeline run that
// created it and is never shared across concurrent requests.
type StructuredSummary map[string]any

// MissingSections returns the hideable section keys whose value fails
// IsPresent, in registry order.
func (s StructuredSummary) MissingSections() []string {
	var missing []string
	for _, spec := range HideableSections() {
		if !IsPresent(s[spec.Key]) {
			missing = append(missing, spec.Key)
		}
	}
	return missing
}

// MergeRecovered merges recovered section values into the summary. A key
// already populated by the primary extraction is never overwritten, so the
// merge is order-independent. Returns the keys actually merged.
func (s StructuredSummary) MergeRecovered(recovered map[string]any) []string {
	var merged []string
	for key, val := range recovered {
		if IsPresent(s[key]) {
			continue
		}
		if !IsPresent(val) {
			continue
		}
		s[key] = val
		merged = append(merged, key)
	}
	return merged
}

// Clone returns a shallow copy of the summary.
func (s StructuredSummary) Clone() StructuredSummary {
	out := make(StructuredSummary, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// SectionCoverage is derived from a StructuredSummary by re-scanning its
// hideable sections. It is never stored apart from the summary that
// produced it.
type SectionCoverage struct {
	CoveredCount  int      `json:"covered_count"`
	TotalCount    int      `json:"total_count"`
	CoverageRatio float64  `json:"coverage_ratio"`
	MissingKeys   []string `json:"missing_keys,omitempty"`
}
