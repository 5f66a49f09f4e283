package review

import (
	"math"
	"sort"
	"time"
)

const minutesPerQuestion = 2

// Item is one schedulable question as seen by the queue helpers.
type Item struct {
	ID    string `json:"id"`
	State State  `json:"state"`
}

type Queue struct {
	Overdue  []Item `json:"overdue"`
	DueToday []Item `json:"due_today"`
	DueSoon  []Item `json:"due_soon"`
	Upcoming []Item `json:"upcoming"`
}

type Stats struct {
	Total            int `json:"total"`
	New              int `json:"new"`
	Learning         int `json:"learning"`
	Reviewing        int `json:"reviewing"`
	Mastered         int `json:"mastered"`
	DueToday         int `json:"due_today"`
	DueThisWeek      int `json:"due_this_week"`
	AverageAccuracy  int `json:"average_accuracy"`
	TotalAttempts    int `json:"total_attempts"`
	StreakDays       int `json:"streak_days"`
	EstimatedMinutes int `json:"estimated_minutes"`
}

// Priority scores how urgently a question needs review, 0..100. Low
// accuracy, days overdue and few attempts all raise it.
func Priority(s State, now time.Time) int {
	accuracyScore := (1 - s.Accuracy()) * 40

	overdueScore := 0.0
	if s.NextReviewDate != nil {
		daysOverdue := now.Sub(*s.NextReviewDate).Hours() / 24
		if daysOverdue > 0 {
			overdueScore = math.Min(40, daysOverdue*10)
		}
	}

	attemptScore := math.Max(0, float64(20-s.TimesAttempted*2))
	return int(math.Round(accuracyScore + overdueScore + attemptScore))
}

// Categorize buckets items by calendar day in now's location. Questions
// never reviewed are due today.
func Categorize(items []Item, now time.Time) Queue {
	today := startOfDay(now)
	tomorrow := today.AddDate(0, 0, 1)
	nextWeek := today.AddDate(0, 0, 7)

	var q Queue
	for _, it := range items {
		next := it.State.NextReviewDate
		switch {
		case next == nil:
			q.DueToday = append(q.DueToday, it)
		case next.Before(today):
			q.Overdue = append(q.Overdue, it)
		case next.Before(tomorrow):
			q.DueToday = append(q.DueToday, it)
		case next.Before(nextWeek):
			q.DueSoon = append(q.DueSoon, it)
		default:
			q.Upcoming = append(q.Upcoming, it)
		}
	}
	for _, bucket := range [][]Item{q.Overdue, q.DueToday, q.DueSoon, q.Upcoming} {
		sortByPriority(bucket, now)
	}
	return q
}

// Filter returns the items a review session should show for the named
// window: "overdue", "today" (overdue + due today), "week" or "all".
func (q Queue) Filter(window string) []Item {
	out := append([]Item(nil), q.Overdue...)
	switch window {
	case "overdue":
		return out
	case "today":
		return append(out, q.DueToday...)
	case "week":
		out = append(out, q.DueToday...)
		return append(out, q.DueSoon...)
	default:
		out = append(out, q.DueToday...)
		out = append(out, q.DueSoon...)
		return append(out, q.Upcoming...)
	}
}

// Summarize computes dashboard statistics. reviewDays holds the timestamps
// of past review submissions and feeds the streak.
func Summarize(items []Item, reviewDays []time.Time, now time.Time) Stats {
	st := Stats{Total: len(items)}
	weekAhead := now.AddDate(0, 0, 7)

	totalAccuracy := 0.0
	withAttempts := 0
	for _, it := range items {
		s := it.State
		if s.TimesAttempted == 0 {
			st.New++
		} else {
			switch Classify(s.TimesAttempted, s.TimesCorrect) {
			case MasteryMastered:
				st.Mastered++
			case MasteryReviewing:
				st.Reviewing++
			default:
				st.Learning++
			}
		}

		if s.NextReviewDate == nil || !s.NextReviewDate.After(now) {
			st.DueToday++
		}
		if s.NextReviewDate == nil || !s.NextReviewDate.After(weekAhead) {
			st.DueThisWeek++
		}

		if s.TimesAttempted > 0 {
			totalAccuracy += s.Accuracy()
			withAttempts++
			st.TotalAttempts += s.TimesAttempted
		}
	}
	if withAttempts > 0 {
		st.AverageAccuracy = int(math.Round(totalAccuracy / float64(withAttempts) * 100))
	}

	days := make(map[string]bool, len(reviewDays))
	for _, d := range reviewDays {
		days[d.In(now.Location()).Format("2006-01-02")] = true
	}
	st.StreakDays = calculateStreak(days, now)
	st.EstimatedMinutes = st.DueToday * minutesPerQuestion
	return st
}

// calculateStreak counts consecutive days with reviews ending today or yesterday.
func calculateStreak(reviewDates map[string]bool, today time.Time) int {
	streak := 0
	checkDate := today

	if !reviewDates[checkDate.Format("2006-01-02")] {
		checkDate = checkDate.AddDate(0, 0, -1)
		if !reviewDates[checkDate.Format("2006-01-02")] {
			return 0
		}
	}

	for reviewDates[checkDate.Format("2006-01-02")] {
		streak++
		checkDate = checkDate.AddDate(0, 0, -1)
	}
	return streak
}

func sortByPriority(items []Item, now time.Time) {
	sort.SliceStable(items, func(i, j int) bool {
		return Priority(items[i].State, now) > Priority(items[j].State, now)
	})
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
