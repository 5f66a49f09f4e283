package analysis

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

const (
	DefaultDetailedAnalysis = "Analysis not available. The AI needs to work harder."
	notApplicable           = "N/A"
	missingQuestionText     = "Question text could not be extracted."
	rawResponseLimit        = 1000
	minOptions              = 4
)

// Sections a complete tutoring explanation is expected to contain.
var RequiredSections = []string{"The Core Concept", "The Examiner's Trap", "Level Up", "Nearby Concepts"}

type Outcome string

const (
	OutcomeParsed   Outcome = "parsed"
	OutcomeRepaired Outcome = "repaired"
	OutcomeFailed   Outcome = "failed"
)

type Stage string

const (
	StageDirect    Stage = "direct"
	StageBackslash Stage = "backslash_repair"
	StageExtract   Stage = "object_extract"
	StageNone      Stage = "none"
)

// Result is the tagged outcome of one normalization. Analysis is always
// fully populated, whatever the outcome.
type Result struct {
	Analysis        QuestionAnalysis
	Outcome         Outcome
	Stage           Stage
	Diagnostic      string
	MissingFields   []string
	MissingSections []string
}

type Normalizer struct {
	logger *slog.Logger
}

func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger}
}

// Normalize uses the default logger.
func Normalize(raw string) Result {
	return NewNormalizer(nil).Normalize(raw)
}

// Normalize never fails: text that cannot be decoded by any stage yields a
// placeholder analysis with Outcome == OutcomeFailed.
func (n *Normalizer) Normalize(raw string) Result {
	obj, outcome, stage, diag := parse(raw)
	if obj == nil {
		n.logger.Warn("ai response could not be parsed", "error", diag, "raw_preview", truncateRunes(raw, 300))
		return Result{
			Analysis:   failedAnalysis(raw),
			Outcome:    OutcomeFailed,
			Stage:      StageNone,
			Diagnostic: diag,
		}
	}

	a, missing := build(obj)
	sections := missingSections(a.DetailedAnalysis)
	if len(missing) > 0 {
		n.logger.Warn("ai response missing fields, defaults applied", "fields", missing)
	}
	if len(sections) > 0 {
		n.logger.Warn("analysis missing sections", "sections", sections)
	}
	if outcome == OutcomeRepaired {
		n.logger.Info("ai response repaired", "stage", string(stage))
	}
	return Result{
		Analysis:        a,
		Outcome:         outcome,
		Stage:           stage,
		Diagnostic:      diag,
		MissingFields:   missing,
		MissingSections: sections,
	}
}

func parse(raw string) (map[string]any, Outcome, Stage, string) {
	text := stripCodeFence(raw)
	var firstErr error
	if !hasLatexEscape(text) {
		obj, err := decodeObject(text)
		if err == nil {
			return obj, OutcomeParsed, StageDirect, ""
		}
		firstErr = err
	}

	repaired := repairBackslashes(text)
	obj, err := decodeObject(repaired)
	if err == nil {
		return obj, OutcomeRepaired, StageBackslash, diagnostic(firstErr)
	}
	if firstErr == nil {
		firstErr = err
	}

	if extracted := extractObject(text); extracted != "" {
		if !hasLatexEscape(extracted) {
			if obj, err := decodeObject(extracted); err == nil {
				return obj, OutcomeRepaired, StageExtract, diagnostic(firstErr)
			}
		}
		if obj, err := decodeObject(repairBackslashes(extracted)); err == nil {
			return obj, OutcomeRepaired, StageExtract, diagnostic(firstErr)
		}
	}
	return nil, OutcomeFailed, StageNone, diagnostic(firstErr)
}

func diagnostic(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func failedAnalysis(raw string) QuestionAnalysis {
	const notice = "Failed to extract question. Please try again."
	return QuestionAnalysis{
		QuestionType:     TypeMCQ,
		Subject:          "Unknown",
		Topic:            "Error",
		ActualQuestion:   notice,
		QuestionText:     notice,
		Options:          placeholderOptions(nil, minOptions),
		VisualComplexity: LevelLow,
		AIConfidence:     LevelLow,
		DetailedAnalysis: "The AI response could not be parsed. This is likely due to malformed JSON in the response.",
		Error:            "Failed to parse AI response as JSON",
		RawResponse:      truncateRunes(raw, rawResponseLimit),
	}
}

// build produces the typed analysis from a decoded object, returning the
// required fields that had to be defaulted.
func build(obj map[string]any) (QuestionAnalysis, []string) {
	var missing []string
	a := QuestionAnalysis{}

	qt, ok := ParseQuestionType(textField(obj, "question_type"))
	if !ok {
		qt = TypeMCQ
		missing = append(missing, "question_type")
	}
	a.QuestionType = qt

	a.Subject = textField(obj, "subject")
	if isBlank(a.Subject) {
		a.Subject = notApplicable
		missing = append(missing, "subject")
	}
	a.Topic = textField(obj, "topic")
	if isBlank(a.Topic) {
		a.Topic = notApplicable
		missing = append(missing, "topic")
	}

	a.QuestionContext = textField(obj, "question_context")
	a.ActualQuestion = textField(obj, "actual_question")
	a.QuestionText = textField(obj, "question_text")
	if isBlank(a.QuestionText) {
		missing = append(missing, "question_text")
		a.QuestionText = joinNonEmpty("\n\n", a.QuestionContext, a.ActualQuestion)
		if a.QuestionText == "" {
			a.QuestionText = missingQuestionText
		}
	}
	if isBlank(a.ActualQuestion) {
		a.ActualQuestion = a.QuestionText
	}

	opts, present := optionsField(obj)
	if !present {
		missing = append(missing, "options")
	}
	a.Options = opts

	if letter, ok := normalizeLabel(textField(obj, "correct_answer")); ok {
		a.CorrectAnswer = &letter
	}

	a.HasVisualElements = boolField(obj, "has_visual_elements")
	if lvl, ok := ParseLevel(textField(obj, "visual_complexity")); ok {
		a.VisualComplexity = lvl
	} else {
		a.VisualComplexity = LevelLow
	}
	if lvl, ok := ParseLevel(textField(obj, "ai_confidence")); ok {
		a.AIConfidence = lvl
	} else {
		a.AIConfidence = LevelHigh
	}

	a.DetailedAnalysis = textField(obj, "detailed_analysis")
	if isBlank(a.DetailedAnalysis) {
		a.DetailedAnalysis = DefaultDetailedAnalysis
		missing = append(missing, "detailed_analysis")
	}
	a.PracticeQuestion = textField(obj, "practice_question")
	a.PracticeAnswer = textField(obj, "practice_answer")
	return a, missing
}

// optionsField returns the normalized options and whether the source had any.
// Labels and texts the model supplied are kept as written. Only missing,
// malformed or duplicate labels and absent texts are filled in.
func optionsField(obj map[string]any) ([]Option, bool) {
	list, _ := obj["options"].([]any)
	out := make([]Option, 0, minOptions)
	var textless []int
	for _, item := range list {
		if len(out) == 26 {
			break
		}
		var opt Option
		hasText := true
		switch v := item.(type) {
		case nil:
			continue
		case map[string]any:
			opt.Label = textField(v, "label")
			opt.Text = textField(v, "text")
			hasText = isScalar(v["text"])
			opt.IsVisual = boolField(v, "is_visual")
			opt.VisualDescription = optionalText(v, "visual_description")
			opt.Coordinates = optionalText(v, "coordinates")
		default:
			opt.Text = scalarText(v)
		}
		if !hasText && !opt.IsVisual {
			textless = append(textless, len(out))
		}
		out = append(out, opt)
	}
	assignLabels(out)
	for _, idx := range textless {
		out[idx].Text = notExtracted(out[idx].Label)
	}
	if len(out) == 0 {
		return placeholderOptions(nil, minOptions), false
	}
	if len(out) < minOptions {
		out = placeholderOptions(out, minOptions)
	}
	return out, true
}

// assignLabels keeps every first-seen single-letter label, then gives loose
// forms such as "(d)" their letter when it is still free, then hands the
// remaining options the next unused letters.
func assignLabels(opts []Option) {
	used := map[string]bool{}
	keep := make([]bool, len(opts))
	for i, o := range opts {
		key := strings.ToUpper(o.Label)
		if isLetterLabel(o.Label) && !used[key] {
			used[key] = true
			keep[i] = true
		}
	}
	var rest []int
	for i := range opts {
		if keep[i] {
			continue
		}
		if label, ok := normalizeLabel(opts[i].Label); ok && !isLetterLabel(opts[i].Label) && !used[label] {
			opts[i].Label = label
			used[label] = true
			continue
		}
		rest = append(rest, i)
	}
	for _, i := range rest {
		opts[i].Label = nextLabel(used)
		used[opts[i].Label] = true
	}
}

func isLetterLabel(s string) bool {
	return len(s) == 1 && isASCIILetter(s[0])
}

// placeholderOptions pads opts with "not extracted" entries using unused labels.
func placeholderOptions(opts []Option, size int) []Option {
	used := map[string]bool{}
	for _, o := range opts {
		used[strings.ToUpper(o.Label)] = true
	}
	out := append([]Option(nil), opts...)
	for len(out) < size {
		label := nextLabel(used)
		used[label] = true
		out = append(out, Option{Label: label, Text: notExtracted(label), IsVisual: true})
	}
	return out
}

func notExtracted(label string) string {
	return fmt.Sprintf("Option %s (not extracted)", label)
}

func nextLabel(used map[string]bool) string {
	for c := 'A'; c <= 'Z'; c++ {
		if !used[string(c)] {
			return string(c)
		}
	}
	return "Z"
}

// normalizeLabel accepts "B", "b", "(B)", "B)", "B." and "Option B".
func normalizeLabel(raw string) (string, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "OPTION ")
	s = strings.Trim(s, "().: ")
	if len(s) != 1 || s[0] < 'A' || s[0] > 'Z' {
		return "", false
	}
	return s, true
}

func missingSections(analysis string) []string {
	var out []string
	for _, sec := range RequiredSections {
		if !strings.Contains(analysis, sec) {
			out = append(out, sec)
		}
	}
	return out
}

// textField returns the value as the model wrote it. Callers trim only to
// decide whether it is blank.
func textField(obj map[string]any, key string) string {
	return scalarText(obj[key])
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func optionalText(obj map[string]any, key string) *string {
	v := textField(obj, key)
	if isBlank(v) {
		return nil
	}
	return &v
}

func scalarText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, float64, bool:
		return true
	default:
		return false
	}
}

func boolField(obj map[string]any, key string) bool {
	switch t := obj[key].(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return err == nil && b
	default:
		return false
	}
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
