package attempt

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/victornm/coursequiz/internal/admission"
	"github.com/victornm/coursequiz/internal/domain"
	"github.com/victornm/coursequiz/internal/errors"
	"github.com/victornm/coursequiz/internal/scoring"
)

type Config struct {
	DB *pgxpool.Pool
}

// Store is the durable, append-only record of quiz attempts.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(c Config) *Store {
	return &Store{
		db: c.DB,
	}
}

type PersistRequest struct {
	MaxAttempts int
	// TotalScore is the sum of the quiz points at submission time, kept on forfeited attempts too.
	TotalScore decimal.Decimal
	Answers    map[string]int
	// Result is nil when the attempt could not be graded. It is then recorded as forfeited.
	Result     *scoring.Result
	SubmitTime time.Time
}

// Persist records the attempt admitted by the reservation, consuming it.
func (s *Store) Persist(ctx context.Context, r *admission.Reservation, req PersistRequest) (*domain.QuizAttempt, error) {
	if err := r.Consume(); err != nil {
		return nil, err
	}

	a, err := newAttempt(r, req)
	if err != nil {
		return nil, err
	}

	if err := s.insertAttempt(ctx, a, req.MaxAttempts); err != nil {
		return nil, err
	}

	return a, nil
}

func newAttempt(r *admission.Reservation, req PersistRequest) (*domain.QuizAttempt, error) {
	if err := checkAttemptNumber(r, req.MaxAttempts); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("attempt: generate attempt ID: %w", err)
	}

	a := &domain.QuizAttempt{
		AttemptID:     id.String(),
		QuizID:        r.Key().QuizID,
		UserID:        r.Key().UserID,
		AttemptNumber: r.AttemptNumber(),
		Answers:       req.Answers,
		SubmittedAt:   req.SubmitTime.UTC(),
	}
	if a.Answers == nil {
		a.Answers = map[string]int{}
	}

	if req.Result == nil {
		a.Forfeited = true
		a.TotalScore = req.TotalScore
		return a, nil
	}

	a.ObtainedScore = req.Result.ObtainedScore
	a.TotalScore = req.Result.TotalScore
	a.Percentage = req.Result.Percentage
	a.Passed = req.Result.Passed
	return a, nil
}

func checkAttemptNumber(r *admission.Reservation, maxAttempts int) error {
	if n := r.AttemptNumber(); n < 1 || n > maxAttempts {
		return errors.InternalConsistency("attempt number out of range: %s attempt=%d max=%d", r.Key(), n, maxAttempts)
	}
	return nil
}

// insertAttempt writes the attempt only while fewer than maxAttempts attempts are recorded for
// the key. Concurrently admitted attempts may commit in any order, so the number itself is only
// checked for uniqueness, by the index on (user_id, quiz_id, attempt_number).
// Either violation means a reservation was misused.
func (s *Store) insertAttempt(ctx context.Context, a *domain.QuizAttempt, maxAttempts int) error {
	const stmt = `
INSERT INTO quiz_attempts (
	attempt_id, quiz_id, user_id, attempt_number, answers,
	obtained_score, total_score, percentage, passed, forfeited, submitted_at
)
SELECT $1::text, $2::text, $3::text, $4::int, $5::jsonb,
	$6::numeric, $7::numeric, $8::int, $9::bool, $10::bool, $11::timestamptz
WHERE (SELECT COUNT(*) FROM quiz_attempts WHERE user_id = $3::text AND quiz_id = $2::text) < $12::int;`

	tag, err := s.db.Exec(ctx, stmt,
		a.AttemptID, a.QuizID, a.UserID, a.AttemptNumber, a.Answers,
		a.ObtainedScore, a.TotalScore, a.Percentage, a.Passed, a.Forfeited, a.SubmittedAt,
		maxAttempts,
	)

	var pgErr *pgconn.PgError
	const codeUniqueViolation = "23505"
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.InternalConsistency("attempt number already recorded: user=%s quiz=%s attempt=%d", a.UserID, a.QuizID, a.AttemptNumber)
	}
	if err != nil {
		return fmt.Errorf("attempt: insert: %w", err)
	}

	if tag.RowsAffected() != 1 {
		return errors.InternalConsistency("attempt ceiling reached: user=%s quiz=%s attempt=%d max=%d", a.UserID, a.QuizID, a.AttemptNumber, maxAttempts)
	}

	return nil
}

// List returns the attempts of a user for a quiz, most recent first.
func (s *Store) List(ctx context.Context, k admission.Key) ([]domain.QuizAttempt, error) {
	const stmt = `
SELECT attempt_id, quiz_id, user_id, attempt_number, answers,
	obtained_score, total_score, percentage, passed, forfeited, submitted_at
FROM quiz_attempts
WHERE user_id = $1 AND quiz_id = $2
ORDER BY attempt_number DESC;`

	rows, err := s.db.Query(ctx, stmt, k.UserID, k.QuizID)
	if err != nil {
		return nil, fmt.Errorf("attempt: list %s: %w", k, err)
	}

	as, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.QuizAttempt, error) {
		var a domain.QuizAttempt
		err := r.Scan(
			&a.AttemptID, &a.QuizID, &a.UserID, &a.AttemptNumber, &a.Answers,
			&a.ObtainedScore, &a.TotalScore, &a.Percentage, &a.Passed, &a.Forfeited, &a.SubmittedAt,
		)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("attempt: scan %s: %w", k, err)
	}

	return as, nil
}

// Count returns the number of recorded attempts of a user for a quiz.
func (s *Store) Count(ctx context.Context, k admission.Key) (int, error) {
	const stmt = `SELECT COUNT(*) FROM quiz_attempts WHERE user_id = $1 AND quiz_id = $2;`

	var n int
	if err := s.db.QueryRow(ctx, stmt, k.UserID, k.QuizID).Scan(&n); err != nil {
		return 0, fmt.Errorf("attempt: count %s: %w", k, err)
	}
	return n, nil
}

// Remaining returns maxAttempts minus the recorded attempts, never negative.
func Remaining(maxAttempts, recorded int) int {
	return max(0, maxAttempts-recorded)
}
