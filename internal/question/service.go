package question

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"ssctracker/internal/analysis"
	"ssctracker/internal/review"
	"ssctracker/internal/storage"
	"ssctracker/internal/vision"

	"github.com/google/uuid"
)

const (
	defaultMaxUploadBytes = 10 << 20
	defaultListLimit      = 20
	maxListLimit          = 100
	defaultMockTestSize   = 10
	maxMockTestSize       = 100
	streakLookback        = 400 * 24 * time.Hour
)

// ImageStore keeps the uploaded screenshot. Failures are not fatal to an upload.
type ImageStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// UploadCache maps (user, image digest) to the question it produced.
type UploadCache interface {
	Lookup(ctx context.Context, userID, digest string) (string, bool, error)
	Remember(ctx context.Context, userID, digest, questionID string) error
	Forget(ctx context.Context, userID, digest string) error
}

// Recorder receives domain metrics.
type Recorder interface {
	AnalysisOutcome(outcome, stage string)
	ReviewSubmitted(correct bool, mastery string)
}

type nopRecorder struct{}

func (nopRecorder) AnalysisOutcome(string, string) {}
func (nopRecorder) ReviewSubmitted(bool, string)   {}

type ServiceConfig struct {
	Store          Store
	Analyzer       vision.Analyzer
	Normalizer     *analysis.Normalizer
	Images         ImageStore
	Cache          UploadCache
	Recorder       Recorder
	Logger         *slog.Logger
	MaxUploadBytes int64
	Now            func() time.Time
}

type Service struct {
	store          Store
	analyzer       vision.Analyzer
	normalizer     *analysis.Normalizer
	images         ImageStore
	cache          UploadCache
	recorder       Recorder
	logger         *slog.Logger
	maxUploadBytes int64
	now            func() time.Time
}

func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	normalizer := cfg.Normalizer
	if normalizer == nil {
		normalizer = analysis.NewNormalizer(logger)
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	maxBytes := cfg.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:          cfg.Store,
		analyzer:       cfg.Analyzer,
		normalizer:     normalizer,
		images:         cfg.Images,
		cache:          cfg.Cache,
		recorder:       recorder,
		logger:         logger,
		maxUploadBytes: maxBytes,
		now:            now,
	}
}

type UploadInput struct {
	Data        []byte
	ContentType string
	Filename    string
}

type UploadResult struct {
	Question  *Question        `json:"question"`
	Duplicate bool             `json:"duplicate"`
	Cached    bool             `json:"cached"`
	Degraded  bool             `json:"degraded"`
	Outcome   analysis.Outcome `json:"parse_outcome,omitempty"`
}

// Upload analyses a screenshot and stores the result. A question whose text
// the user already saved is replaced in place, keeping its review history.
func (s *Service) Upload(ctx context.Context, userID uuid.UUID, in UploadInput) (*UploadResult, error) {
	if len(in.Data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrInvalidInput)
	}
	if int64(len(in.Data)) > s.maxUploadBytes {
		return nil, ErrFileTooLarge
	}
	contentType := imageContentType(in.ContentType, in.Data)
	if contentType == "" {
		return nil, ErrUnsupportedMedia
	}

	digest := storage.Digest(in.Data)
	if res, ok := s.fromCache(ctx, userID, digest); ok {
		return res, nil
	}

	if s.analyzer == nil {
		return nil, fmt.Errorf("%w: %w", ErrAnalysisUnavailable, vision.ErrNotConfigured)
	}
	raw, err := s.analyzer.Analyze(ctx, in.Data, contentType)
	if err != nil {
		if errors.Is(err, vision.ErrNotConfigured) || errors.Is(err, vision.ErrOverloaded) {
			return nil, fmt.Errorf("%w: %w", ErrAnalysisUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrAnalysisFailed, err)
	}

	parsed := s.normalizer.Normalize(raw)
	s.recorder.AnalysisOutcome(string(parsed.Outcome), string(parsed.Stage))
	degraded := parsed.Outcome == analysis.OutcomeFailed

	var imageURL *string
	if s.images != nil {
		url, err := s.images.Put(ctx, storage.ObjectKey(userID.String(), digest, contentType), in.Data, contentType)
		if err != nil {
			s.logger.WarnContext(ctx, "screenshot upload failed, continuing without image", "user_id", userID, "error", err)
		} else {
			imageURL = &url
		}
	}

	status := StatusAnalyzed
	if degraded {
		status = StatusDegraded
	}
	result := &UploadResult{Degraded: degraded, Outcome: parsed.Outcome}

	if !degraded {
		existing, err := s.store.FindByText(ctx, userID, parsed.Analysis.QuestionText)
		switch {
		case err == nil:
			existing.QuestionText = parsed.Analysis.QuestionText
			existing.Subject = parsed.Analysis.Subject
			existing.Topic = parsed.Analysis.Topic
			existing.Content = parsed.Analysis
			if imageURL != nil || existing.ImageURL == nil {
				existing.ImageURL = imageURL
				existing.ImageDigest = digest
			}
			existing.Status = status
			if err := s.store.ReplaceContent(ctx, existing); err != nil {
				return nil, err
			}
			result.Question = existing
			result.Duplicate = true
		case errors.Is(err, ErrQuestionNotFound):
		default:
			return nil, err
		}
	}

	if result.Question == nil {
		q := newQuestion(userID, parsed.Analysis, SourceScreenshot, status)
		q.ImageURL = imageURL
		q.ImageDigest = digest
		if err := s.store.Insert(ctx, q); err != nil {
			return nil, err
		}
		result.Question = q
	}

	if !degraded && s.cache != nil {
		if err := s.cache.Remember(ctx, userID.String(), digest, result.Question.ID.String()); err != nil {
			s.logger.WarnContext(ctx, "upload cache write failed", "error", err)
		}
	}
	s.logger.InfoContext(ctx, "screenshot analyzed",
		"user_id", userID,
		"question_id", result.Question.ID,
		"outcome", string(parsed.Outcome),
		"stage", string(parsed.Stage),
		"duplicate", result.Duplicate)
	return result, nil
}

func (s *Service) fromCache(ctx context.Context, userID uuid.UUID, digest string) (*UploadResult, bool) {
	if s.cache == nil {
		return nil, false
	}
	idRaw, ok, err := s.cache.Lookup(ctx, userID.String(), digest)
	if err != nil {
		s.logger.WarnContext(ctx, "upload cache read failed", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	id, err := uuid.Parse(idRaw)
	if err == nil {
		if q, err := s.store.Get(ctx, userID, id); err == nil {
			return &UploadResult{Question: q, Duplicate: true, Cached: true}, true
		}
	}
	s.forget(ctx, userID, digest)
	return nil, false
}

// imageContentType returns the normalized image media type, sniffing the
// bytes when the declared type is missing or generic. Non-images yield "".
func imageContentType(declared string, data []byte) string {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(declared, ";")[0]))
	if strings.HasPrefix(ct, "image/") {
		return ct
	}
	sniffed := strings.Split(http.DetectContentType(data), ";")[0]
	if strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	return ""
}

type ManualInput struct {
	QuestionText  string   `json:"question_text"`
	Options       []string `json:"options"`
	CorrectOption string   `json:"correct_option"`
	Subject       string   `json:"subject"`
	Topic         string   `json:"topic"`
	Explanation   string   `json:"explanation"`
}

// CreateManual stores a hand-typed question. The input goes through the same
// normalizer as AI output so stored content always has one shape.
func (s *Service) CreateManual(ctx context.Context, userID uuid.UUID, in ManualInput) (*Question, error) {
	return s.createManual(ctx, userID, in, SourceManual)
}

func (s *Service) createManual(ctx context.Context, userID uuid.UUID, in ManualInput, source string) (*Question, error) {
	in.QuestionText = strings.TrimSpace(in.QuestionText)
	if in.QuestionText == "" {
		return nil, fmt.Errorf("%w: question_text is required", ErrInvalidInput)
	}
	filled := 0
	for _, o := range in.Options {
		if strings.TrimSpace(o) != "" {
			filled++
		}
	}
	if filled < 2 {
		return nil, fmt.Errorf("%w: at least two options are required", ErrInvalidInput)
	}
	correct := strings.ToUpper(strings.TrimSpace(in.CorrectOption))
	if correct != "" && (len(correct) != 1 || correct[0] < 'A' || int(correct[0]-'A') >= len(in.Options)) {
		return nil, fmt.Errorf("%w: correct_option must name one of the options", ErrInvalidInput)
	}

	options := make([]map[string]any, 0, len(in.Options))
	for i, o := range in.Options {
		opt := map[string]any{"label": string(rune('A' + i))}
		if text := strings.TrimSpace(o); text != "" {
			opt["text"] = text
		}
		options = append(options, opt)
	}
	payload := map[string]any{
		"question_type":     "mcq",
		"subject":           strings.TrimSpace(in.Subject),
		"topic":             strings.TrimSpace(in.Topic),
		"question_text":     in.QuestionText,
		"actual_question":   in.QuestionText,
		"options":           options,
		"correct_answer":    correct,
		"ai_confidence":     "high",
		"detailed_analysis": strings.TrimSpace(in.Explanation),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal manual question: %w", err)
	}
	a := s.normalizer.Normalize(string(raw)).Analysis

	if _, err := s.store.FindByText(ctx, userID, a.QuestionText); err == nil {
		return nil, ErrDuplicateQuestion
	} else if !errors.Is(err, ErrQuestionNotFound) {
		return nil, err
	}

	q := newQuestion(userID, a, source, StatusManual)
	if err := s.store.Insert(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

type ReviewInput struct {
	IsCorrect *bool           `json:"is_correct"`
	Selected  json.RawMessage `json:"selected"`
}

type ReviewResult struct {
	QuestionID    uuid.UUID    `json:"question_id"`
	IsCorrect     bool         `json:"is_correct"`
	Selected      string       `json:"selected,omitempty"`
	CorrectAnswer string       `json:"correct_answer,omitempty"`
	State         review.State `json:"review"`
}

// SubmitReview grades one answer and advances the question's schedule.
// A client may send either the chosen option or an explicit verdict.
func (s *Service) SubmitReview(ctx context.Context, userID, id uuid.UUID, in ReviewInput) (*ReviewResult, error) {
	q, err := s.store.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	var correct bool
	var selected string
	switch {
	case len(in.Selected) > 0 && string(in.Selected) != "null":
		correct, selected, err = review.Grade(q.Content.Answer(), in.Selected)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
	case in.IsCorrect != nil:
		correct = *in.IsCorrect
	default:
		return nil, fmt.Errorf("%w: is_correct or selected is required", ErrInvalidInput)
	}

	now := s.now()
	next := review.Apply(q.State, correct, now)
	ev := ReviewEvent{
		QuestionID:   q.ID,
		UserID:       userID,
		IsCorrect:    correct,
		Selected:     selected,
		EaseFactor:   next.EaseFactor,
		IntervalDays: next.IntervalDays,
		ReviewedAt:   now.UTC(),
	}
	if err := s.store.UpdateReview(ctx, userID, id, q.TimesAttempted, next, ev); err != nil {
		return nil, err
	}
	s.recorder.ReviewSubmitted(correct, string(next.MasteryLevel))

	return &ReviewResult{
		QuestionID:    q.ID,
		IsCorrect:     correct,
		Selected:      selected,
		CorrectAnswer: q.Content.Answer(),
		State:         next,
	}, nil
}

type QueueEntry struct {
	Bucket   string    `json:"bucket"`
	Priority int       `json:"priority"`
	Question *Question `json:"question"`
}

type QueueView struct {
	Counts map[string]int `json:"counts"`
	Items  []QueueEntry   `json:"items"`
}

// ReviewQueue lists the user's questions in review order for window
// ("overdue", "today", "week" or "all").
func (s *Service) ReviewQueue(ctx context.Context, userID uuid.UUID, window string) (*QueueView, error) {
	questions, _, err := s.store.List(ctx, userID, Filter{})
	if err != nil {
		return nil, err
	}
	now := s.now()
	byID := make(map[string]*Question, len(questions))
	items := make([]review.Item, 0, len(questions))
	for i := range questions {
		q := &questions[i]
		byID[q.ID.String()] = q
		items = append(items, review.Item{ID: q.ID.String(), State: q.State})
	}

	queue := review.Categorize(items, now)
	bucketOf := map[string]string{}
	for bucket, list := range map[string][]review.Item{
		"overdue":   queue.Overdue,
		"due_today": queue.DueToday,
		"due_soon":  queue.DueSoon,
		"upcoming":  queue.Upcoming,
	} {
		for _, it := range list {
			bucketOf[it.ID] = bucket
		}
	}

	view := &QueueView{
		Counts: map[string]int{
			"overdue":   len(queue.Overdue),
			"due_today": len(queue.DueToday),
			"due_soon":  len(queue.DueSoon),
			"upcoming":  len(queue.Upcoming),
		},
		Items: make([]QueueEntry, 0),
	}
	for _, it := range queue.Filter(strings.ToLower(strings.TrimSpace(window))) {
		view.Items = append(view.Items, QueueEntry{
			Bucket:   bucketOf[it.ID],
			Priority: review.Priority(it.State, now),
			Question: byID[it.ID],
		})
	}
	return view, nil
}

func (s *Service) Stats(ctx context.Context, userID uuid.UUID) (*review.Stats, error) {
	questions, _, err := s.store.List(ctx, userID, Filter{})
	if err != nil {
		return nil, err
	}
	now := s.now()
	times, err := s.store.ReviewTimes(ctx, userID, now.Add(-streakLookback))
	if err != nil {
		return nil, err
	}
	items := make([]review.Item, 0, len(questions))
	for _, q := range questions {
		items = append(items, review.Item{ID: q.ID.String(), State: q.State})
	}
	st := review.Summarize(items, times, now)
	return &st, nil
}

func (s *Service) List(ctx context.Context, userID uuid.UUID, f Filter) ([]Question, int, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.store.List(ctx, userID, f)
}

func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*Question, error) {
	return s.store.Get(ctx, userID, id)
}

func (s *Service) UpdateNotes(ctx context.Context, userID, id uuid.UUID, notes string) (*Question, error) {
	notes = strings.TrimSpace(notes)
	if len(notes) > 20000 {
		return nil, fmt.Errorf("%w: notes too long", ErrInvalidInput)
	}
	return s.store.UpdateNotes(ctx, userID, id, notes)
}

func (s *Service) UpdateStatus(ctx context.Context, userID, id uuid.UUID, raw string) (*Question, error) {
	status, ok := ParseStatus(raw)
	if !ok {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, raw)
	}
	return s.store.UpdateStatus(ctx, userID, id, status)
}

func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	q, err := s.store.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, userID, id); err != nil {
		return err
	}
	if s.cache != nil && q.ImageDigest != "" {
		s.forget(ctx, userID, q.ImageDigest)
	}
	return nil
}

func (s *Service) forget(ctx context.Context, userID uuid.UUID, digest string) {
	if err := s.cache.Forget(ctx, userID.String(), digest); err != nil {
		s.logger.WarnContext(ctx, "upload cache delete failed", "user_id", userID, "error", err)
	}
}

type MockTestInput struct {
	Subject       string `json:"subject"`
	OnlyIncorrect bool   `json:"only_incorrect"`
	Count         int    `json:"count"`
	Shuffle       bool   `json:"shuffle"`
}

// PickMockTest selects questions that have usable options for a practice
// test. Degraded records are skipped.
func (s *Service) PickMockTest(ctx context.Context, userID uuid.UUID, in MockTestInput) ([]Question, error) {
	count := in.Count
	if count <= 0 {
		count = defaultMockTestSize
	}
	if count > maxMockTestSize {
		count = maxMockTestSize
	}
	questions, _, err := s.store.List(ctx, userID, Filter{Subject: in.Subject, OnlyIncorrect: in.OnlyIncorrect})
	if err != nil {
		return nil, err
	}

	picked := make([]Question, 0, count)
	for _, q := range questions {
		if q.Status == StatusDegraded || !q.HasRealOptions() {
			continue
		}
		picked = append(picked, q)
	}
	if in.Shuffle {
		rand.Shuffle(len(picked), func(i, j int) { picked[i], picked[j] = picked[j], picked[i] })
	}
	if len(picked) > count {
		picked = picked[:count]
	}
	return picked, nil
}
