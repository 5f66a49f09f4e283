package review

import (
	"math"
	"time"
)

const (
	DefaultEaseFactor = 2.5
	MinEaseFactor     = 1.3
	DefaultInterval   = 1

	qualityCorrect   = 4
	qualityIncorrect = 0
)

type Mastery string

const (
	MasteryNew       Mastery = "new"
	MasteryLearning  Mastery = "learning"
	MasteryReviewing Mastery = "reviewing"
	MasteryMastered  Mastery = "mastered"
)

// State is the review-tracking portion of a stored question.
type State struct {
	TimesAttempted  int        `json:"times_attempted"`
	TimesCorrect    int        `json:"times_correct"`
	EaseFactor      float64    `json:"ease_factor"`
	IntervalDays    int        `json:"interval_days"`
	NextReviewDate  *time.Time `json:"next_review_date"`
	MasteryLevel    Mastery    `json:"mastery_level"`
	LastAttemptedAt *time.Time `json:"last_attempted_at,omitempty"`
}

// Accuracy returns times_correct / times_attempted, or 0 before the first attempt.
func (s State) Accuracy() float64 {
	if s.TimesAttempted <= 0 {
		return 0
	}
	return float64(s.TimesCorrect) / float64(s.TimesAttempted)
}

// Apply records one answer and returns the next state. Zero or negative
// inputs are treated as a first-ever review.
func Apply(prior State, isCorrect bool, now time.Time) State {
	attempted := max(prior.TimesAttempted, 0)
	correct := min(max(prior.TimesCorrect, 0), attempted)
	ease := prior.EaseFactor
	if ease <= 0 {
		ease = DefaultEaseFactor
	}
	interval := prior.IntervalDays
	if interval <= 0 {
		interval = DefaultInterval
	}

	attempted++
	var nextInterval int
	var nextEase float64
	if isCorrect {
		correct++
		switch correct {
		case 1:
			nextInterval = 1
		case 2:
			nextInterval = 6
		default:
			nextInterval = int(math.Round(float64(interval) * ease))
		}
		nextEase = updateEase(ease, qualityCorrect)
	} else {
		nextInterval = 1
		nextEase = updateEase(ease, qualityIncorrect)
	}
	if nextInterval < 1 {
		nextInterval = 1
	}

	at := now.UTC()
	next := at.AddDate(0, 0, nextInterval)
	return State{
		TimesAttempted:  attempted,
		TimesCorrect:    correct,
		EaseFactor:      nextEase,
		IntervalDays:    nextInterval,
		NextReviewDate:  &next,
		MasteryLevel:    Classify(attempted, correct),
		LastAttemptedAt: &at,
	}
}

// updateEase is the SM-2 ease update for answer quality q (0..5), floored
// at MinEaseFactor and rounded to two decimals.
func updateEase(ease float64, q int) float64 {
	d := float64(5 - q)
	next := ease + (0.1 - d*(0.08+d*0.02))
	next = math.Round(next*100) / 100
	if next < MinEaseFactor {
		next = MinEaseFactor
	}
	return next
}

// Classify derives the mastery level from the answer counters. Accuracy
// thresholds are compared in integers so 4/5 and 3/5 land exactly.
func Classify(attempted, correct int) Mastery {
	switch {
	case attempted <= 2:
		return MasteryLearning
	case attempted >= 5 && correct*5 >= attempted*4:
		return MasteryMastered
	case correct*5 >= attempted*3:
		return MasteryReviewing
	default:
		return MasteryLearning
	}
}
