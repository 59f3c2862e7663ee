package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models wrap around JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```JSON", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}

// objectSpan returns the outermost {...} of s, tolerating prose around it.
func objectSpan(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return "", false
	}
	return s[start : end+1], true
}

// decodeObject decodes the JSON object in content into v. Unknown fields are
// ignored because models like to add commentary keys.
func decodeObject(content string, v any) error {
	cleaned := stripMarkdown(content)
	obj, ok := objectSpan(cleaned)
	if !ok {
		return fmt.Errorf("%w: no JSON object in %q", ErrMalformed, truncate(cleaned, 80))
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// isNull reports whether content is a bare JSON null.
func isNull(content string) bool {
	return stripMarkdown(content) == "null"
}

// number decodes a JSON number, or a string holding one, as float64.
// Absent and null values report present == false.
func number(raw json.RawMessage) (v float64, present bool, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false, nil
	}
	s := string(raw)
	if s[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, true, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		s = strings.TrimSpace(strings.NewReplacer("$", "", ",", "", "%", "").Replace(s))
		if s == "" {
			return 0, false, nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, true, fmt.Errorf("%w: %q is not a number", ErrMalformed, truncate(string(raw), 40))
	}
	return f, true, nil
}

// integer is [number] restricted to whole values.
func integer(raw json.RawMessage) (v int64, present bool, err error) {
	f, present, err := number(raw)
	if err != nil || !present {
		return 0, present, err
	}
	if f != math.Trunc(f) {
		return 0, true, fmt.Errorf("%w: %v is not an integer", ErrMalformed, f)
	}
	return int64(f), true, nil
}

// truncate shortens s for log and error messages.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
