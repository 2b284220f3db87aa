package workflow

import (
	"encoding/json"
	"strings"
)

// extractJSON unmarshals a model response that should be a JSON object
// but may be wrapped in prose or markdown fences. The substring between
// the first "{" and the last "}" is taken as the payload.
func extractJSON(raw string, v any) error {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		start := strings.Index(s, "{")
		end := strings.LastIndex(s, "}")
		if start != -1 && end > start {
			s = s[start : end+1]
		}
	}
	return json.Unmarshal([]byte(s), v)
}
