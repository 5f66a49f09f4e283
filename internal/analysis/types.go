package analysis

import "strings"

type QuestionType string

const (
	TypeMCQ        QuestionType = "mcq"
	TypePassage    QuestionType = "passage"
	TypeCloze      QuestionType = "cloze"
	TypeGeometry   QuestionType = "geometry"
	TypeNonVerbal  QuestionType = "non_verbal"
	TypeTableBased QuestionType = "table_based"
	TypeArithmetic QuestionType = "arithmetic"
	TypeAlgebra    QuestionType = "algebra"
)

var questionTypes = map[QuestionType]struct{}{
	TypeMCQ:        {},
	TypePassage:    {},
	TypeCloze:      {},
	TypeGeometry:   {},
	TypeNonVerbal:  {},
	TypeTableBased: {},
	TypeArithmetic: {},
	TypeAlgebra:    {},
}

// ParseQuestionType accepts loose spellings such as "Non-Verbal" or "table based".
func ParseQuestionType(raw string) (QuestionType, bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	v = strings.NewReplacer("-", "_", " ", "_").Replace(v)
	qt := QuestionType(v)
	if _, ok := questionTypes[qt]; !ok {
		return "", false
	}
	return qt, true
}

type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

func ParseLevel(raw string) (Level, bool) {
	switch Level(strings.ToLower(strings.TrimSpace(raw))) {
	case LevelLow:
		return LevelLow, true
	case LevelMedium:
		return LevelMedium, true
	case LevelHigh:
		return LevelHigh, true
	default:
		return "", false
	}
}

type Option struct {
	Label             string  `json:"label"`
	Text              string  `json:"text"`
	IsVisual          bool    `json:"is_visual"`
	VisualDescription *string `json:"visual_description"`
	Coordinates       *string `json:"coordinates"`
}

// QuestionAnalysis is the validated form of one AI extraction. Values are
// built once by the normalizer and treated as read-only afterwards.
type QuestionAnalysis struct {
	QuestionType      QuestionType `json:"question_type"`
	Subject           string       `json:"subject"`
	Topic             string       `json:"topic"`
	QuestionContext   string       `json:"question_context"`
	ActualQuestion    string       `json:"actual_question"`
	QuestionText      string       `json:"question_text"`
	Options           []Option     `json:"options"`
	CorrectAnswer     *string      `json:"correct_answer"`
	HasVisualElements bool         `json:"has_visual_elements"`
	VisualComplexity  Level        `json:"visual_complexity"`
	AIConfidence      Level        `json:"ai_confidence"`
	DetailedAnalysis  string       `json:"detailed_analysis"`
	PracticeQuestion  string       `json:"practice_question"`
	PracticeAnswer    string       `json:"practice_answer"`
	Error             string       `json:"error,omitempty"`
	RawResponse       string       `json:"raw_response,omitempty"`
}

// Degraded reports whether the analysis is the placeholder produced for
// unparseable AI output.
func (a QuestionAnalysis) Degraded() bool {
	return a.Error != ""
}

// Answer returns the correct option label, or "" when unknown.
func (a QuestionAnalysis) Answer() string {
	if a.CorrectAnswer == nil {
		return ""
	}
	return *a.CorrectAnswer
}
