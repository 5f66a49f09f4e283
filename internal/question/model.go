package question

import (
	"errors"
	"strings"
	"time"

	"ssctracker/internal/analysis"
	"ssctracker/internal/review"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrQuestionNotFound    = errors.New("question not found")
	ErrDuplicateQuestion   = errors.New("question already exists")
	ErrConcurrentUpdate    = errors.New("question was reviewed concurrently, retry")
	ErrFileTooLarge        = errors.New("file too large")
	ErrUnsupportedMedia    = errors.New("file must be an image")
	ErrAnalysisUnavailable = errors.New("analysis service unavailable")
	ErrAnalysisFailed      = errors.New("analysis failed")
)

type Status string

const (
	StatusAnalyzed   Status = "analyzed"
	StatusUnanalyzed Status = "unanalyzed"
	StatusDegraded   Status = "degraded"
	StatusManual     Status = "manual"
)

func ParseStatus(v string) (Status, bool) {
	switch s := Status(strings.ToLower(strings.TrimSpace(v))); s {
	case StatusAnalyzed, StatusUnanalyzed, StatusDegraded, StatusManual:
		return s, true
	default:
		return "", false
	}
}

const (
	SourceScreenshot = "screenshot"
	SourceManual     = "manual"
	SourceImport     = "import"
)

// Question is one stored mistake. The embedded review.State is owned by the
// review flow and only changes through Store.UpdateReview.
type Question struct {
	ID           uuid.UUID                 `json:"id"`
	UserID       uuid.UUID                 `json:"user_id"`
	QuestionText string                    `json:"question_text"`
	Subject      string                    `json:"subject"`
	Topic        string                    `json:"topic"`
	Source       string                    `json:"question_source"`
	Content      analysis.QuestionAnalysis `json:"content"`
	ImageURL     *string                   `json:"image_url,omitempty"`
	ImageDigest  string                    `json:"-"`
	Status       Status                    `json:"status"`
	ManualNotes  string                    `json:"manual_notes"`
	review.State
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasRealOptions reports whether at least one option has extracted, non-blank text.
func (q Question) HasRealOptions() bool {
	for _, o := range q.Content.Options {
		if strings.TrimSpace(o.Text) != "" && !strings.HasSuffix(o.Text, "(not extracted)") {
			return true
		}
	}
	return false
}

func newQuestion(userID uuid.UUID, a analysis.QuestionAnalysis, source string, status Status) *Question {
	return &Question{
		ID:           uuid.New(),
		UserID:       userID,
		QuestionText: a.QuestionText,
		Subject:      a.Subject,
		Topic:        a.Topic,
		Source:       source,
		Content:      a,
		Status:       status,
		State: review.State{
			EaseFactor:   review.DefaultEaseFactor,
			IntervalDays: review.DefaultInterval,
			MasteryLevel: review.MasteryNew,
		},
	}
}

type Filter struct {
	Subject       string
	Topic         string
	Status        Status
	Source        string
	Since         *time.Time
	OnlyIncorrect bool
	Limit         int
	Offset        int
}

type ReviewEvent struct {
	QuestionID   uuid.UUID
	UserID       uuid.UUID
	IsCorrect    bool
	Selected     string
	EaseFactor   float64
	IntervalDays int
	ReviewedAt   time.Time
}
