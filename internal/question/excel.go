package question

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

const (
	defaultExportQuantity = 100
	maxExportQuantity     = 500
)

var exportHeaders = []string{
	"question_text", "option_a", "option_b", "option_c", "option_d", "correct_option",
	"subject", "topic", "explanation", "status", "times_attempted", "times_correct",
	"mastery_level", "next_review_date", "created_at",
}

type ExportInput struct {
	Subject   string
	Topic     string
	DateRange string
	Quantity  int
}

type ImportRowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

type ImportReport struct {
	TotalRows   int              `json:"total_rows"`
	SuccessRows int              `json:"success_rows"`
	FailedRows  int              `json:"failed_rows"`
	Errors      []ImportRowError `json:"errors"`
}

// sinceFor maps a named date range to a lower bound on created_at.
func sinceFor(dateRange string, now time.Time) (*time.Time, error) {
	var since time.Time
	switch strings.ToLower(strings.TrimSpace(dateRange)) {
	case "", "all_time":
		return nil, nil
	case "last_7_days":
		since = now.AddDate(0, 0, -7)
	case "last_month":
		since = now.AddDate(0, -1, 0)
	default:
		return nil, fmt.Errorf("%w: unknown date_range %q", ErrInvalidInput, dateRange)
	}
	return &since, nil
}

func (s *Service) ExportWorkbook(ctx context.Context, userID uuid.UUID, in ExportInput) ([]byte, error) {
	quantity := in.Quantity
	if quantity == 0 {
		quantity = defaultExportQuantity
	}
	if quantity < 1 || quantity > maxExportQuantity {
		return nil, fmt.Errorf("%w: quantity must be between 1 and %d", ErrInvalidInput, maxExportQuantity)
	}
	since, err := sinceFor(in.DateRange, s.now())
	if err != nil {
		return nil, err
	}
	items, _, err := s.store.List(ctx, userID, Filter{
		Subject: in.Subject,
		Topic:   in.Topic,
		Since:   since,
		Limit:   quantity,
	})
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetName(0)
	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, it := range items {
		row := i + 2
		options := make([]string, 4)
		for j, o := range it.Content.Options {
			if j >= len(options) {
				break
			}
			options[j] = o.Text
		}
		nextReview := ""
		if it.NextReviewDate != nil {
			nextReview = it.NextReviewDate.Format("2006-01-02")
		}
		values := []any{
			it.QuestionText,
			options[0], options[1], options[2], options[3],
			it.Content.Answer(),
			it.Subject,
			it.Topic,
			it.Content.DetailedAnalysis,
			string(it.Status),
			it.TimesAttempted,
			it.TimesCorrect,
			string(it.MasteryLevel),
			nextReview,
			it.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "A", 60)
	_ = f.SetColWidth(sheet, "B", "O", 22)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

// ImportWorkbook creates manual questions from the first sheet. Rows fail
// individually; the report lists each failure by spreadsheet row number.
func (s *Service) ImportWorkbook(ctx context.Context, userID uuid.UUID, r io.Reader) (*ImportReport, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: open excel: %v", ErrInvalidInput, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: excel sheet is empty", ErrInvalidInput)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: no data rows found", ErrInvalidInput)
	}

	header := map[string]int{}
	for i, h := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range []string{"question_text", "option_a", "option_b"} {
		if _, ok := header[col]; !ok {
			return nil, fmt.Errorf("%w: missing required column: %s", ErrInvalidInput, col)
		}
	}

	report := &ImportReport{Errors: make([]ImportRowError, 0)}
	for i := 1; i < len(rows); i++ {
		rowNo := i + 1
		row := rows[i]
		get := func(key string) string {
			idx, ok := header[key]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		if strings.Join(row, "") == "" {
			continue
		}
		report.TotalRows++

		options := []string{get("option_a"), get("option_b"), get("option_c"), get("option_d")}
		for len(options) > 2 && options[len(options)-1] == "" {
			options = options[:len(options)-1]
		}
		_, err := s.createManual(ctx, userID, ManualInput{
			QuestionText:  get("question_text"),
			Options:       options,
			CorrectOption: get("correct_option"),
			Subject:       get("subject"),
			Topic:         get("topic"),
			Explanation:   get("explanation"),
		}, SourceImport)
		if err != nil {
			if !errors.Is(err, ErrInvalidInput) && !errors.Is(err, ErrDuplicateQuestion) {
				return nil, fmt.Errorf("import row %d: %w", rowNo, err)
			}
			report.FailedRows++
			report.Errors = append(report.Errors, ImportRowError{Row: rowNo, Error: err.Error()})
			continue
		}
		report.SuccessRows++
	}
	return report, nil
}
