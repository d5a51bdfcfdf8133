package comments

import (
	"encoding/json"
	"strings"
)

// The state blob is a JSON object serialized into an HTML comment at the
// end of the primary bot comment. Humans never see it; the bot reads it
// back on the next run to recover what it last believed.
const (
	dataStart = "\n<!-- comment-data:v1 "
	dataEnd   = " -->"
)

// FormatData serializes the state blob for embedding in a comment body.
// An empty map still produces a marker so the blob's absence can be told
// apart from a parse failure.
func FormatData(data map[string]any) string {
	raw, err := json.Marshal(data)
	if err != nil {
		// Only non-serializable values can get here; the fixer stores
		// plain bools and strings.
		raw = []byte("{}")
	}
	return dataStart + string(raw) + dataEnd
}

// ExtractData recovers the state blob from a comment body. Any parse
// failure yields an empty map: prior state is a cache, not a contract.
func ExtractData(body string) map[string]any {
	start := strings.Index(body, dataStart)
	if start < 0 {
		return map[string]any{}
	}
	rest := body[start+len(dataStart):]
	end := strings.Index(rest, dataEnd)
	if end < 0 {
		return map[string]any{}
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(rest[:end]), &data); err != nil {
		return map[string]any{}
	}
	return data
}
