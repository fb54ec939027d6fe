package pipeline

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/filing-summary/internal/model"
)

// cleanJSON strips markdown code fences and surrounding prose from a model
// response, leaving the outermost JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find first { and last }.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// parseSummaryJSON decodes a model response into a raw section map. When the
// strict parse fails it makes one lenient pass: re-cleaning after dropping a
// trailing partial line, which recovers responses truncated mid-object.
func parseSummaryJSON(text string) (map[string]any, error) {
	cleaned := cleanJSON(text)

	var raw map[string]any
	if err := json.Unmarshal([]byte(cleaned), &raw); err == nil {
		return raw, nil
	}

	if idx := strings.LastIndex(cleaned, "\n"); idx > 0 {
		head := strings.TrimRight(strings.TrimSpace(cleaned[:idx]), ",")
		retry := cleanJSON(head + "}")
		if err := json.Unmarshal([]byte(retry), &raw); err == nil {
			return raw, nil
		}
	}

	return nil, eris.New("pipeline: response is not valid JSON")
}

// validateSection checks a raw value against the section's declared kind and
// coerces near-miss shapes. Values that cannot be made to fit are rejected so
// a malformed section degrades to absent instead of poisoning the summary.
func validateSection(spec model.SectionSpec, raw any) (any, error) {
	if !model.IsPresent(raw) {
		return nil, eris.Errorf("pipeline: section %s is empty", spec.Key)
	}

	switch spec.Kind {
	case model.SectionKindText:
		if s, ok := raw.(string); ok {
			return strings.TrimSpace(s), nil
		}
		return nil, eris.Errorf("pipeline: section %s expected text", spec.Key)

	case model.SectionKindList:
		switch v := raw.(type) {
		case []any:
			out := make([]any, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					if strings.TrimSpace(s) == "" {
						continue
					}
					out = append(out, strings.TrimSpace(s))
				} else {
					out = append(out, item)
				}
			}
			if len(out) == 0 {
				return nil, eris.Errorf("pipeline: section %s list is empty", spec.Key)
			}
			return out, nil
		case string:
			// A lone string stands in for a one-item list.
			return []any{strings.TrimSpace(v)}, nil
		}
		return nil, eris.Errorf("pipeline: section %s expected list", spec.Key)

	case model.SectionKindObject:
		if m, ok := raw.(map[string]any); ok {
			return m, nil
		}
		return nil, eris.Errorf("pipeline: section %s expected object", spec.Key)
	}

	return nil, eris.Errorf("pipeline: section %s has unknown kind %s", spec.Key, spec.Kind)
}

// validateSummary filters a raw extraction map down to known sections with
// valid payloads. Unknown keys and malformed payloads are dropped, not fatal.
func validateSummary(raw map[string]any) model.StructuredSummary {
	out := make(model.StructuredSummary, len(raw))
	for key, val := range raw {
		spec := model.SectionByKey(key)
		if spec == nil {
			continue
		}
		v, err := validateSection(*spec, val)
		if err != nil {
			continue
		}
		out[key] = v
	}
	return out
}
