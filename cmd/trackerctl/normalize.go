package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"ssctracker/internal/analysis"

	"github.com/spf13/cobra"
)

func newNormalizeCmd() *cobra.Command {
	var showRaw bool
	cmd := &cobra.Command{
		Use:   "normalize [file|-]",
		Short: "Normalize a raw AI response into a question analysis",
		Long: `Reads a raw model response from a file (or stdin when the argument is
"-" or missing) and prints the normalized analysis together with the
pipeline outcome and the recovery stage that produced it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			res := analysis.Normalize(string(raw))
			if !showRaw {
				res.Analysis.RawResponse = ""
			}
			out := map[string]any{
				"outcome":  res.Outcome,
				"stage":    res.Stage,
				"analysis": res.Analysis,
			}
			if res.Diagnostic != "" {
				out["diagnostic"] = res.Diagnostic
			}
			if len(res.MissingFields) > 0 {
				out["missing_fields"] = res.MissingFields
			}
			if len(res.MissingSections) > 0 {
				out["missing_sections"] = res.MissingSections
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().BoolVar(&showRaw, "raw", false, "keep raw_response in the output of failed parses")
	return cmd
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	b, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", args[0], err)
	}
	return b, nil
}
