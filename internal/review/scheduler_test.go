package review

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

func TestApplyFirstReviewDefaults(t *testing.T) {
	got := Apply(State{}, true, fixedNow)

	assert.Equal(t, 1, got.TimesAttempted)
	assert.Equal(t, 1, got.TimesCorrect)
	assert.Equal(t, 1, got.IntervalDays)
	assert.Equal(t, 2.6, got.EaseFactor)
	assert.Equal(t, MasteryLearning, got.MasteryLevel)
	require.NotNil(t, got.NextReviewDate)
	assert.Equal(t, fixedNow.AddDate(0, 0, 1), *got.NextReviewDate)
	require.NotNil(t, got.LastAttemptedAt)
	assert.Equal(t, fixedNow, *got.LastAttemptedAt)
}

func TestApplyIntervalSequence(t *testing.T) {
	s := State{EaseFactor: DefaultEaseFactor, IntervalDays: 1}

	s = Apply(s, true, fixedNow)
	assert.Equal(t, 1, s.IntervalDays)

	s = Apply(s, true, fixedNow)
	assert.Equal(t, 6, s.IntervalDays)
	assert.Equal(t, 2, s.TimesCorrect)

	s = Apply(s, true, fixedNow)
	assert.Equal(t, 16, s.IntervalDays)
	assert.Equal(t, 3, s.TimesCorrect)
	assert.Equal(t, fixedNow.AddDate(0, 0, 16), *s.NextReviewDate)
}

func TestApplyIntervalUsesPriorEase(t *testing.T) {
	got := Apply(State{TimesAttempted: 4, TimesCorrect: 3, EaseFactor: 2.0, IntervalDays: 10}, true, fixedNow)
	assert.Equal(t, 20, got.IntervalDays)
	assert.Equal(t, 2.1, got.EaseFactor)
}

func TestApplyResetsOnFailure(t *testing.T) {
	for _, ease := range []float64{1.3, 2.5, 3.7} {
		got := Apply(State{TimesAttempted: 6, TimesCorrect: 6, EaseFactor: ease, IntervalDays: 16}, false, fixedNow)
		assert.Equal(t, 1, got.IntervalDays)
		assert.Equal(t, 7, got.TimesAttempted)
		assert.Equal(t, 6, got.TimesCorrect)
		assert.Equal(t, fixedNow.AddDate(0, 0, 1), *got.NextReviewDate)
	}
}

func TestApplyEaseFloor(t *testing.T) {
	s := State{}
	for i := 0; i < 10; i++ {
		s = Apply(s, false, fixedNow)
		assert.GreaterOrEqual(t, s.EaseFactor, MinEaseFactor)
	}
	assert.Equal(t, MinEaseFactor, s.EaseFactor)

	got := Apply(State{TimesAttempted: 3, TimesCorrect: 1, EaseFactor: 1.3, IntervalDays: 1}, true, fixedNow)
	assert.Equal(t, 1.4, got.EaseFactor)
}

func TestApplyEaseDeltas(t *testing.T) {
	assert.Equal(t, 1.7, Apply(State{EaseFactor: 2.5}, false, fixedNow).EaseFactor)
	assert.Equal(t, 2.6, Apply(State{EaseFactor: 2.5}, true, fixedNow).EaseFactor)
}

func TestApplyNormalizesInvalidPrior(t *testing.T) {
	got := Apply(State{TimesAttempted: -3, TimesCorrect: -1, EaseFactor: -2, IntervalDays: -5}, false, fixedNow)
	assert.Equal(t, 1, got.TimesAttempted)
	assert.Equal(t, 0, got.TimesCorrect)
	assert.Equal(t, 1.7, got.EaseFactor)
	assert.Equal(t, 1, got.IntervalDays)
}

func TestApplyIsDeterministic(t *testing.T) {
	prior := State{TimesAttempted: 3, TimesCorrect: 2, EaseFactor: 2.36, IntervalDays: 6}
	assert.Equal(t, Apply(prior, true, fixedNow), Apply(prior, true, fixedNow))
}

func TestApplyNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	got := Apply(State{}, true, fixedNow.In(loc))
	assert.Equal(t, time.UTC, got.NextReviewDate.Location())
	assert.True(t, got.NextReviewDate.Equal(fixedNow.AddDate(0, 0, 1)))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		attempted int
		correct   int
		want      Mastery
	}{
		{attempted: 0, correct: 0, want: MasteryLearning},
		{attempted: 2, correct: 2, want: MasteryLearning},
		{attempted: 3, correct: 3, want: MasteryReviewing},
		{attempted: 4, correct: 4, want: MasteryReviewing},
		{attempted: 5, correct: 4, want: MasteryMastered},
		{attempted: 5, correct: 3, want: MasteryReviewing},
		{attempted: 5, correct: 2, want: MasteryLearning},
		{attempted: 10, correct: 8, want: MasteryMastered},
		{attempted: 10, correct: 7, want: MasteryReviewing},
		{attempted: 10, correct: 5, want: MasteryLearning},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Classify(tc.attempted, tc.correct), "attempted=%d correct=%d", tc.attempted, tc.correct)
	}
}

func TestApplyMasteryFollowsCounters(t *testing.T) {
	s := State{}
	for _, ok := range []bool{true, true, false, true, true} {
		s = Apply(s, ok, fixedNow)
	}
	assert.Equal(t, 5, s.TimesAttempted)
	assert.Equal(t, 4, s.TimesCorrect)
	assert.Equal(t, MasteryMastered, s.MasteryLevel)
	assert.Equal(t, Classify(s.TimesAttempted, s.TimesCorrect), s.MasteryLevel)
}
