package report

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"

	"ssctracker/internal/review"

	"github.com/google/uuid"
)

const (
	trendDays         = 30
	topTopics         = 10
	needsReviewBelow  = 70
	needsReviewMinQty = 3
	bestHourMinTries  = 5
)

type Service struct {
	db  *sql.DB
	now func() time.Time
}

type SubjectBreakdown struct {
	Subject   string `json:"subject"`
	Count     int    `json:"count"`
	Attempted int    `json:"attempted"`
	Accuracy  int    `json:"accuracy"`
}

type TopicBreakdown struct {
	Topic    string `json:"topic"`
	Count    int    `json:"count"`
	Accuracy int    `json:"accuracy"`
}

type TrendPoint struct {
	Date     string `json:"date"`
	Accuracy int    `json:"accuracy"`
	Attempts int    `json:"attempts"`
}

type SubjectScore struct {
	Name     string `json:"name"`
	Accuracy int    `json:"accuracy"`
}

type StudyHour struct {
	Hour     int    `json:"hour"`
	Accuracy int    `json:"accuracy"`
	Label    string `json:"label"`
}

type Summary struct {
	Subjects      []SubjectBreakdown `json:"subjects"`
	Topics        []TopicBreakdown   `json:"topics"`
	Trend         []TrendPoint       `json:"trend"`
	Mastery       map[string]int     `json:"mastery"`
	Weakest       *SubjectScore      `json:"weakest_subject"`
	Strongest     *SubjectScore      `json:"strongest_subject"`
	NeedsReview   []string           `json:"needs_review"`
	Improvement   int                `json:"improvement"`
	BestStudyHour *StudyHour         `json:"best_study_hour"`
}

// QuestionStat is the per-question slice of data the summary needs.
type QuestionStat struct {
	Subject   string
	Topic     string
	Attempted int
	Correct   int
}

// Attempt is one review submission.
type Attempt struct {
	At        time.Time
	IsCorrect bool
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: time.Now}
}

func (s *Service) Summary(ctx context.Context, userID uuid.UUID, subject string) (*Summary, error) {
	stats, err := s.loadQuestions(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	attempts, err := s.loadAttempts(ctx, userID, now.AddDate(0, 0, -trendDays))
	if err != nil {
		return nil, err
	}
	sum := Build(stats, attempts, subject, now)
	return &sum, nil
}

func (s *Service) loadQuestions(ctx context.Context, userID uuid.UUID) ([]QuestionStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject, topic, times_attempted, times_correct
		FROM questions
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query question stats: %w", err)
	}
	defer rows.Close()

	out := make([]QuestionStat, 0)
	for rows.Next() {
		var st QuestionStat
		if err := rows.Scan(&st.Subject, &st.Topic, &st.Attempted, &st.Correct); err != nil {
			return nil, fmt.Errorf("scan question stats: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate question stats: %w", err)
	}
	return out, nil
}

func (s *Service) loadAttempts(ctx context.Context, userID uuid.UUID, since time.Time) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT reviewed_at, is_correct
		FROM review_events
		WHERE user_id = $1 AND reviewed_at >= $2
		ORDER BY reviewed_at
	`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("query review events: %w", err)
	}
	defer rows.Close()

	out := make([]Attempt, 0)
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.At, &a.IsCorrect); err != nil {
			return nil, fmt.Errorf("scan review event: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review events: %w", err)
	}
	return out, nil
}

// Build aggregates question counters and recent attempts into a Summary.
// subject narrows the topic breakdown; "" or "All" means every subject.
func Build(stats []QuestionStat, attempts []Attempt, subject string, now time.Time) Summary {
	sum := Summary{
		Subjects:    subjectBreakdown(stats),
		Topics:      topicBreakdown(stats, subject),
		Trend:       accuracyTrend(attempts, now),
		Mastery:     map[string]int{"new": 0, "learning": 0, "reviewing": 0, "mastered": 0},
		NeedsReview: make([]string, 0),
	}
	for _, st := range stats {
		level := review.MasteryNew
		if st.Attempted > 0 {
			level = review.Classify(st.Attempted, st.Correct)
		}
		sum.Mastery[string(level)]++
	}

	for _, sb := range sum.Subjects {
		if sb.Attempted == 0 {
			continue
		}
		if sum.Weakest == nil || sb.Accuracy < sum.Weakest.Accuracy {
			sum.Weakest = &SubjectScore{Name: sb.Subject, Accuracy: sb.Accuracy}
		}
		if sum.Strongest == nil || sb.Accuracy > sum.Strongest.Accuracy {
			sum.Strongest = &SubjectScore{Name: sb.Subject, Accuracy: sb.Accuracy}
		}
	}

	for _, t := range topicBreakdown(stats, "") {
		if t.Accuracy < needsReviewBelow && t.Count >= needsReviewMinQty {
			sum.NeedsReview = append(sum.NeedsReview, t.Topic)
		}
	}

	sum.Improvement = improvement(sum.Trend)
	sum.BestStudyHour = bestStudyHour(attempts)
	return sum
}

func subjectBreakdown(stats []QuestionStat) []SubjectBreakdown {
	type acc struct {
		SubjectBreakdown
		tries, correct int
	}
	bySubject := map[string]*acc{}
	order := make([]string, 0)
	for _, st := range stats {
		name := st.Subject
		if name == "" {
			name = "Unknown"
		}
		a, ok := bySubject[name]
		if !ok {
			a = &acc{SubjectBreakdown: SubjectBreakdown{Subject: name}}
			bySubject[name] = a
			order = append(order, name)
		}
		a.Count++
		if st.Attempted > 0 {
			a.Attempted++
			a.tries += st.Attempted
			a.correct += st.Correct
		}
	}

	out := make([]SubjectBreakdown, 0, len(order))
	for _, name := range order {
		a := bySubject[name]
		a.Accuracy = percent(a.correct, a.tries)
		out = append(out, a.SubjectBreakdown)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

func topicBreakdown(stats []QuestionStat, subject string) []TopicBreakdown {
	type acc struct {
		count, tries, correct int
	}
	byTopic := map[string]*acc{}
	order := make([]string, 0)
	for _, st := range stats {
		if subject != "" && subject != "All" && st.Subject != subject {
			continue
		}
		name := st.Topic
		if name == "" {
			name = "Other"
		}
		a, ok := byTopic[name]
		if !ok {
			a = &acc{}
			byTopic[name] = a
			order = append(order, name)
		}
		a.count++
		if st.Attempted > 0 {
			a.tries += st.Attempted
			a.correct += st.Correct
		}
	}

	out := make([]TopicBreakdown, 0, len(order))
	for _, name := range order {
		a := byTopic[name]
		out = append(out, TopicBreakdown{Topic: name, Count: a.count, Accuracy: percent(a.correct, a.tries)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > topTopics {
		out = out[:topTopics]
	}
	return out
}

// accuracyTrend buckets attempts from the last 30 days by UTC date.
func accuracyTrend(attempts []Attempt, now time.Time) []TrendPoint {
	cutoff := now.AddDate(0, 0, -trendDays)
	type acc struct{ total, correct int }
	byDate := map[string]*acc{}
	for _, a := range attempts {
		if a.At.Before(cutoff) {
			continue
		}
		key := a.At.UTC().Format("2006-01-02")
		d, ok := byDate[key]
		if !ok {
			d = &acc{}
			byDate[key] = d
		}
		d.total++
		if a.IsCorrect {
			d.correct++
		}
	}

	out := make([]TrendPoint, 0, len(byDate))
	for date, d := range byDate {
		out = append(out, TrendPoint{Date: date, Accuracy: percent(d.correct, d.total), Attempts: d.total})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// improvement compares the mean accuracy of the last seven trend points
// with the first seven.
func improvement(trend []TrendPoint) int {
	if len(trend) == 0 {
		return 0
	}
	mean := func(points []TrendPoint) float64 {
		total := 0
		for _, p := range points {
			total += p.Accuracy
		}
		return float64(total) / float64(len(points))
	}
	n := min(7, len(trend))
	return int(math.Round(mean(trend[len(trend)-n:]) - mean(trend[:n])))
}

func bestStudyHour(attempts []Attempt) *StudyHour {
	var total, correct [24]int
	for _, a := range attempts {
		h := a.At.Hour()
		total[h]++
		if a.IsCorrect {
			correct[h]++
		}
	}

	best := -1
	bestAccuracy := 0.0
	for h := 0; h < 24; h++ {
		if total[h] < bestHourMinTries {
			continue
		}
		accuracy := float64(correct[h]) / float64(total[h]) * 100
		if accuracy > bestAccuracy {
			best, bestAccuracy = h, accuracy
		}
	}
	if best < 0 {
		return nil
	}
	return &StudyHour{Hour: best, Accuracy: int(math.Round(bestAccuracy)), Label: hourLabel(best)}
}

func hourLabel(h int) string {
	twelve := func(v int) int {
		if v%12 == 0 {
			return 12
		}
		return v % 12
	}
	suffix := "AM"
	if h >= 12 {
		suffix = "PM"
	}
	return fmt.Sprintf("%d-%d %s", twelve(h), twelve(h+1), suffix)
}

func percent(part, whole int) int {
	if whole <= 0 {
		return 0
	}
	return (part*100 + whole/2) / whole
}
