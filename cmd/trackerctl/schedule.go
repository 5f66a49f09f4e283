package main

import (
	"encoding/json"
	"fmt"
	"time"

	"ssctracker/internal/review"

	"github.com/spf13/cobra"
)

func newScheduleCmd() *cobra.Command {
	var (
		attempted int
		correct   int
		ease      float64
		interval  int
		answers   string
		at        string
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Apply answers to a review state and print each step",
		Long: `Starts from the given review state and applies each answer in --answers
(a string of c for correct and x for incorrect, e.g. "ccx") in order,
printing the state after every step.`,
		Example: `  trackerctl schedule --answers ccc
  trackerctl schedule --attempted 4 --correct 3 --ease 2.3 --interval 6 --answers x`,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UTC()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at must be RFC3339: %w", err)
				}
				now = t
			}
			state := review.State{
				TimesAttempted: attempted,
				TimesCorrect:   correct,
				EaseFactor:     ease,
				IntervalDays:   interval,
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for i, a := range answers {
				var ok bool
				switch a {
				case 'c', 'C':
					ok = true
				case 'x', 'X':
					ok = false
				default:
					return fmt.Errorf("answer %d: %q is not c or x", i+1, a)
				}
				state = review.Apply(state, ok, now)
				if err := enc.Encode(state); err != nil {
					return err
				}
				now = *state.NextReviewDate
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&attempted, "attempted", 0, "prior times_attempted")
	cmd.Flags().IntVar(&correct, "correct", 0, "prior times_correct")
	cmd.Flags().Float64Var(&ease, "ease", review.DefaultEaseFactor, "prior ease factor")
	cmd.Flags().IntVar(&interval, "interval", review.DefaultInterval, "prior interval in days")
	cmd.Flags().StringVar(&answers, "answers", "c", "answers to apply, c or x per review")
	cmd.Flags().StringVar(&at, "at", "", "time of the first review (RFC3339), defaults to now")
	return cmd
}
