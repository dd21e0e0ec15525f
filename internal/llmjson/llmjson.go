// Package llmjson decodes structured JSON out of free-form LLM completions.
//
// Every agent that expects machine-readable output goes through this package
// rather than calling [encoding/json] on raw completions: models wrap JSON in
// code fences, lead with prose, or emit trailing commas, and the handling of
// those quirks must be identical everywhere so that a parse failure means the
// same thing in every caller.
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON indicates the completion contained no top-level JSON object.
var ErrNoJSON = errors.New("llmjson: no JSON object in completion")

// StripFences removes optional markdown code fences (```json ... ```) that
// some models prepend and append to JSON output.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
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

// ExtractObject returns the first balanced top-level {...} group in s.
// Braces inside JSON strings do not count toward balancing. Returns
// [ErrNoJSON] when no opening brace exists and an error when the object is
// left unterminated (truncated completion).
func ExtractObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return "", ErrNoJSON
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("llmjson: unterminated JSON object (depth %d at end of input)", depth)
}

// removeTrailingCommas deletes commas that directly precede a closing brace
// or bracket, the most common malformation in model output. String contents
// are left untouched.
func removeTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if c == ',' {
			// Look ahead past whitespace; drop the comma when a closer follows.
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Decode extracts the first JSON object from an LLM completion and
// unmarshals it into T. On an initial unmarshal failure it makes exactly one
// repair attempt (trailing-comma removal) before giving up.
func Decode[T any](content string) (T, error) {
	var out T

	raw, err := ExtractObject(StripFences(content))
	if err != nil {
		return out, err
	}

	if err := json.Unmarshal([]byte(raw), &out); err == nil {
		return out, nil
	}

	repaired := removeTrailingCommas(raw)
	if err := json.Unmarshal([]byte(repaired), &out); err != nil {
		return out, fmt.Errorf("llmjson: unmarshal after repair: %w", err)
	}
	return out, nil
}
