package analysis

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when a model reply contains no JSON object.
var ErrNoJSON = errors.New("no JSON object in response")

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)\\s*```")

// ExtractJSON pulls the JSON object out of a model reply. Replies wrapped in
// markdown code fences or surrounded by commentary yield the same text as the
// bare object. Fenced spans without an object, such as quoted excerpts, are
// skipped.
func ExtractJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	fences := fenceRe.FindAllStringSubmatch(s, -1)
	for _, m := range fences {
		if obj, ok := firstObject(m[1]); ok {
			return obj, nil
		}
	}
	if obj, ok := firstObject(s); ok {
		return obj, nil
	}

	// Nothing decodes: hand back the outermost braces so the caller reports
	// a malformed object rather than a missing one.
	body := s
	for _, m := range fences {
		if strings.Contains(m[1], "{") {
			body = strings.TrimSpace(m[1])
			break
		}
	}
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return "", ErrNoJSON
	}
	return body[start : end+1], nil
}

// firstObject returns the first complete JSON object in s.
func firstObject(s string) (string, bool) {
	for i := strings.IndexByte(s, '{'); i >= 0; {
		var v json.RawMessage
		if err := json.NewDecoder(strings.NewReader(s[i:])).Decode(&v); err == nil {
			return string(v), true
		}
		next := strings.IndexByte(s[i+1:], '{')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return "", false
}
