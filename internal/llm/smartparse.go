package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	hjson "github.com/hjson/hjson-go/v4"

	"copydesk/internal/types"
)

// StripFences removes a surrounding markdown code fence, which models
// emit even in JSON mode often enough to handle unconditionally.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// Drop the language tag line ("json", "JSON", ...).
		first := strings.TrimSpace(s[:idx])
		if len(first) <= 10 && !strings.ContainsAny(first, "{[") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// SmartParse decodes model output into v, trying progressively more
// forgiving strategies: strict JSON, then mechanical repair (unquoted
// keys, trailing commas, single quotes), then hjson. All three failing
// means the output is not salvageable and classifies as a generation
// failure, which is never retried.
func SmartParse(input string, v any) error {
	text := StripFences(input)

	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}

	if repaired, err := jsonrepair.RepairJSON(text); err == nil {
		if err := json.Unmarshal([]byte(repaired), v); err == nil {
			return nil
		}
	}

	var loose any
	if err := hjson.Unmarshal([]byte(text), &loose); err == nil {
		if normalized, err := json.Marshal(loose); err == nil {
			if err := json.Unmarshal(normalized, v); err == nil {
				return nil
			}
		}
	}

	return fmt.Errorf("%w: output is not valid JSON after repair", types.ErrGenerationFailed)
}
