package analysis

import (
	"encoding/json"
	"errors"
	"strings"
)

var errNotObject = errors.New("response is not a json object")

// LaTeX commands whose first letter collides with a JSON escape (\b \f \n \r \t).
// A backslash followed by one of these words is treated as LaTeX, not an escape.
// Short words that also start ordinary text after a newline or tab ("\ni)",
// "\ne.g.", "\tan apple") are left out.
var latexCommands = map[string]struct{}{
	"backslash": {}, "bar": {}, "because": {}, "begin": {}, "beta": {}, "bigcap": {},
	"bigcup": {}, "binom": {}, "bmod": {}, "bot": {}, "boxed": {}, "bullet": {},
	"fbox": {}, "forall": {}, "frac": {},
	"nabla": {}, "neq": {}, "newline": {}, "ngeq": {}, "nleq": {}, "nmid": {}, "notin": {},
	"rangle": {}, "rceil": {}, "rfloor": {}, "right": {}, "rightarrow": {},
	"tanh": {}, "text": {}, "textbf": {}, "tfrac": {}, "therefore": {},
	"theta": {}, "tilde": {}, "times": {}, "triangle": {},
}

// stripCodeFence removes a markdown code fence around the payload.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = s[len("```json"):]
	} else if strings.HasPrefix(s, "```") {
		s = s[3:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// repairBackslashes doubles every backslash that does not start a valid JSON
// escape, plus those that start a known LaTeX command. Escaped pairs are left
// alone, so applying it twice yields the same text.
func repairBackslashes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 16)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(s) {
			b.WriteString(`\\`)
			continue
		}
		next := s[i+1]
		switch {
		case next == '\\' || next == '"' || next == '/':
			b.WriteByte(c)
			b.WriteByte(next)
			i++
		case next == 'u' && isHex4(s[i+2:]):
			b.WriteByte(c)
			b.WriteByte(next)
			i++
		case strings.IndexByte("bfnrt", next) >= 0 && !isLatexCommand(s[i+1:]):
			b.WriteByte(c)
			b.WriteByte(next)
			i++
		default:
			b.WriteString(`\\`)
		}
	}
	return b.String()
}

// hasLatexEscape reports whether s contains a \b or \f escape that starts a
// LaTeX command. Those decode to control characters that never belong in
// question text. \n \r \t are always taken as real escapes here.
func hasLatexEscape(s string) bool {
	for i := 0; i+1 < len(s); i++ {
		if s[i] != '\\' {
			continue
		}
		next := s[i+1]
		if (next == 'b' || next == 'f') && isLatexCommand(s[i+1:]) {
			return true
		}
		i++
	}
	return false
}

// extractObject returns the text between the first '{' and the last '}'.
func extractObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func decodeObject(s string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errNotObject
	}
	return obj, nil
}

func isLatexCommand(s string) bool {
	n := 0
	for n < len(s) && isASCIILetter(s[n]) {
		n++
	}
	_, ok := latexCommands[s[:n]]
	return ok
}

func isHex4(s string) bool {
	if len(s) < 4 {
		return false
	}
	for i := 0; i < 4; i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

func isASCIILetter(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
