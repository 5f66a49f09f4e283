package review

import (
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrNoAnswerKey = errors.New("question has no correct answer recorded")
	ErrUnanswered  = errors.New("no option selected")
	ErrMalformed   = errors.New("malformed selection payload")
)

// Grade compares a submitted selection against the stored answer key.
// payload is the raw JSON value of "selected": either "B" or ["B"].
func Grade(correctAnswer string, payload json.RawMessage) (bool, string, error) {
	correct := strings.TrimSpace(correctAnswer)
	if correct == "" {
		return false, "", ErrNoAnswerKey
	}
	selected, err := parseSelection(payload)
	if err != nil {
		return false, "", err
	}
	return strings.EqualFold(selected, correct), strings.ToUpper(selected), nil
}

func parseSelection(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", ErrUnanswered
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", ErrMalformed
	}
	switch t := v.(type) {
	case string:
		t = strings.TrimSpace(t)
		if t == "" {
			return "", ErrUnanswered
		}
		return t, nil
	case []any:
		if len(t) == 0 {
			return "", ErrUnanswered
		}
		if len(t) > 1 {
			return "", ErrMalformed
		}
		s, ok := t[0].(string)
		if !ok {
			return "", ErrMalformed
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return "", ErrUnanswered
		}
		return s, nil
	default:
		return "", ErrMalformed
	}
}
