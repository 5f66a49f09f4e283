package question

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ssctracker/internal/review"

	"github.com/google/uuid"
)

// Store persists questions. All lookups are scoped to the owning user.
type Store interface {
	Insert(ctx context.Context, q *Question) error
	Get(ctx context.Context, userID, id uuid.UUID) (*Question, error)
	FindByText(ctx context.Context, userID uuid.UUID, text string) (*Question, error)
	ReplaceContent(ctx context.Context, q *Question) error
	// UpdateReview writes next only if the stored times_attempted still equals
	// expectedAttempts, and appends ev to the review log in the same transaction.
	UpdateReview(ctx context.Context, userID, id uuid.UUID, expectedAttempts int, next review.State, ev ReviewEvent) error
	List(ctx context.Context, userID uuid.UUID, f Filter) ([]Question, int, error)
	ReviewTimes(ctx context.Context, userID uuid.UUID, since time.Time) ([]time.Time, error)
	UpdateNotes(ctx context.Context, userID, id uuid.UUID, notes string) (*Question, error)
	UpdateStatus(ctx context.Context, userID, id uuid.UUID, status Status) (*Question, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const questionColumns = `
	id, user_id, question_text, subject, topic, question_source, content, image_url, image_digest,
	status, manual_notes, times_attempted, times_correct, ease_factor, interval_days,
	next_review_date, mastery_level, last_attempted_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row rowScanner, extra ...any) (*Question, error) {
	var (
		q          Question
		content    []byte
		imageURL   sql.NullString
		status     string
		mastery    string
		nextReview sql.NullTime
		lastTried  sql.NullTime
	)
	dest := []any{
		&q.ID,
		&q.UserID,
		&q.QuestionText,
		&q.Subject,
		&q.Topic,
		&q.Source,
		&content,
		&imageURL,
		&q.ImageDigest,
		&status,
		&q.ManualNotes,
		&q.TimesAttempted,
		&q.TimesCorrect,
		&q.EaseFactor,
		&q.IntervalDays,
		&nextReview,
		&mastery,
		&lastTried,
		&q.CreatedAt,
		&q.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(content, &q.Content); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	if imageURL.Valid {
		q.ImageURL = &imageURL.String
	}
	if nextReview.Valid {
		t := nextReview.Time.UTC()
		q.NextReviewDate = &t
	}
	if lastTried.Valid {
		t := lastTried.Time.UTC()
		q.LastAttemptedAt = &t
	}
	q.Status = Status(status)
	q.MasteryLevel = review.Mastery(mastery)
	return &q, nil
}

func (s *PostgresStore) Insert(ctx context.Context, q *Question) error {
	content, err := json.Marshal(q.Content)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO questions (
			id, user_id, question_text, subject, topic, question_source, content, image_url, image_digest,
			status, manual_notes, times_attempted, times_correct, ease_factor, interval_days,
			next_review_date, mastery_level, last_attempted_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9,
			$10, $11, $12, $13, $14, $15,
			$16, $17, $18, now(), now()
		)
		RETURNING created_at, updated_at
	`,
		q.ID, q.UserID, q.QuestionText, q.Subject, q.Topic, q.Source, content, q.ImageURL, q.ImageDigest,
		string(q.Status), q.ManualNotes, q.TimesAttempted, q.TimesCorrect, q.EaseFactor, q.IntervalDays,
		q.NextReviewDate, string(q.MasteryLevel), q.LastAttemptedAt,
	).Scan(&q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, userID, id uuid.UUID) (*Question, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = $1 AND user_id = $2`, id, userID)
	q, err := scanQuestion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("load question: %w", err)
	}
	return q, nil
}

func (s *PostgresStore) FindByText(ctx context.Context, userID uuid.UUID, text string) (*Question, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+questionColumns+`
		FROM questions
		WHERE user_id = $1 AND md5(question_text) = md5($2) AND question_text = $2
		ORDER BY created_at
		LIMIT 1
	`, userID, text)
	q, err := scanQuestion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("find question by text: %w", err)
	}
	return q, nil
}

func (s *PostgresStore) ReplaceContent(ctx context.Context, q *Question) error {
	content, err := json.Marshal(q.Content)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		UPDATE questions
		SET question_text = $3,
			subject = $4,
			topic = $5,
			content = $6::jsonb,
			image_url = COALESCE($7, image_url),
			image_digest = $8,
			status = $9,
			updated_at = now()
		WHERE id = $1 AND user_id = $2
		RETURNING updated_at
	`, q.ID, q.UserID, q.QuestionText, q.Subject, q.Topic, content, q.ImageURL, q.ImageDigest, string(q.Status)).Scan(&q.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrQuestionNotFound
		}
		return fmt.Errorf("replace question content: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateReview(ctx context.Context, userID, id uuid.UUID, expectedAttempts int, next review.State, ev ReviewEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE questions
		SET times_attempted = $4,
			times_correct = $5,
			ease_factor = $6,
			interval_days = $7,
			next_review_date = $8,
			mastery_level = $9,
			last_attempted_at = $10,
			updated_at = now()
		WHERE id = $1 AND user_id = $2 AND times_attempted = $3
	`, id, userID, expectedAttempts,
		next.TimesAttempted, next.TimesCorrect, next.EaseFactor, next.IntervalDays,
		next.NextReviewDate, string(next.MasteryLevel), next.LastAttemptedAt)
	if err != nil {
		return fmt.Errorf("update review state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update review state: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM questions WHERE id = $1 AND user_id = $2)`, id, userID).Scan(&exists); err != nil {
			return fmt.Errorf("check question: %w", err)
		}
		if !exists {
			return ErrQuestionNotFound
		}
		return ErrConcurrentUpdate
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO review_events (question_id, user_id, is_correct, selected, ease_factor, interval_days, reviewed_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
	`, ev.QuestionID, ev.UserID, ev.IsCorrect, ev.Selected, ev.EaseFactor, ev.IntervalDays, ev.ReviewedAt); err != nil {
		return fmt.Errorf("insert review event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit review: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, userID uuid.UUID, f Filter) ([]Question, int, error) {
	where := []string{"user_id = $1"}
	args := []any{userID}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if v := strings.TrimSpace(f.Subject); v != "" {
		add("lower(subject) = lower($%d)", v)
	}
	if v := strings.TrimSpace(f.Topic); v != "" {
		add("lower(topic) = lower($%d)", v)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Source != "" {
		add("question_source = $%d", f.Source)
	}
	if f.Since != nil {
		add("created_at >= $%d", *f.Since)
	}
	if f.OnlyIncorrect {
		where = append(where, "times_correct < times_attempted")
	}

	query := `SELECT ` + questionColumns + `, count(*) OVER () FROM questions WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	items := make([]Question, 0)
	total := 0
	for rows.Next() {
		q, err := scanQuestion(rows, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("scan question: %w", err)
		}
		items = append(items, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate questions: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) ReviewTimes(ctx context.Context, userID uuid.UUID, since time.Time) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT reviewed_at FROM review_events
		WHERE user_id = $1 AND reviewed_at >= $2
		ORDER BY reviewed_at DESC
	`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("query review events: %w", err)
	}
	defer rows.Close()

	out := make([]time.Time, 0)
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan review event: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review events: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateNotes(ctx context.Context, userID, id uuid.UUID, notes string) (*Question, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE questions SET manual_notes = $3, updated_at = now()
		WHERE id = $1 AND user_id = $2
		RETURNING `+questionColumns, id, userID, notes)
	q, err := scanQuestion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("update notes: %w", err)
	}
	return q, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, userID, id uuid.UUID, status Status) (*Question, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE questions SET status = $3, updated_at = now()
		WHERE id = $1 AND user_id = $2
		RETURNING `+questionColumns, id, userID, string(status))
	q, err := scanQuestion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("update status: %w", err)
	}
	return q, nil
}

func (s *PostgresStore) Delete(ctx context.Context, userID, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM questions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	if affected == 0 {
		return ErrQuestionNotFound
	}
	return nil
}
