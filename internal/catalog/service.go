package catalog

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/coursequiz/internal/domain"
	"github.com/victornm/coursequiz/internal/errors"
)

type Config struct {
	DB    *pgxpool.Pool
	Cache *Cache
}

// Service is a read-only view over the course structure.
type Service struct {
	db    *pgxpool.Pool
	cache *Cache
}

func NewService(c Config) *Service {
	return &Service{
		db:    c.DB,
		cache: c.Cache,
	}
}

// GetLessonContext returns what is needed to authorize access to a lesson.
func (s *Service) GetLessonContext(ctx context.Context, lessonID string) (*domain.LessonContext, error) {
	const stmt = `
SELECT l.lesson_id, l.section_id, s.course_id, l.is_free, COALESCE(l.quiz_id, '')
FROM lessons l
JOIN sections s ON s.section_id = l.section_id
WHERE l.lesson_id = $1;`

	var lc domain.LessonContext
	err := s.db.QueryRow(ctx, stmt, lessonID).Scan(&lc.LessonID, &lc.SectionID, &lc.CourseID, &lc.IsFree, &lc.QuizID)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("lesson not found: lesson=%s", lessonID)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get lesson %s: %w", lessonID, err)
	}

	return &lc, nil
}

// ListSectionLessons returns the section and its lessons in display order.
func (s *Service) ListSectionLessons(ctx context.Context, sectionID string) (*domain.Section, []domain.Lesson, error) {
	const (
		sectionStmt = `
SELECT section_id, course_id, sort_order, title_en, title_ar, description_en, description_ar
FROM sections
WHERE section_id = $1;`

		lessonsStmt = `
SELECT lesson_id, section_id, sort_order, title_en, title_ar, is_free, has_video, COALESCE(quiz_id, '')
FROM lessons
WHERE section_id = $1
ORDER BY sort_order;`
	)

	var sec domain.Section
	err := s.db.QueryRow(ctx, sectionStmt, sectionID).Scan(
		&sec.SectionID, &sec.CourseID, &sec.Order,
		&sec.Title.En, &sec.Title.Ar, &sec.Description.En, &sec.Description.Ar,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil, errors.NotFound("section not found: section=%s", sectionID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("catalog: get section %s: %w", sectionID, err)
	}

	rows, err := s.db.Query(ctx, lessonsStmt, sectionID)
	if err != nil {
		return nil, nil, fmt.Errorf("catalog: list lessons %s: %w", sectionID, err)
	}

	lessons, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Lesson, error) {
		var l domain.Lesson
		err := r.Scan(&l.LessonID, &l.SectionID, &l.Order, &l.Title.En, &l.Title.Ar, &l.IsFree, &l.HasVideo, &l.QuizID)
		return l, err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("catalog: scan lessons %s: %w", sectionID, err)
	}

	return &sec, lessons, nil
}

// GetQuiz returns the full quiz definition, correct answers included.
func (s *Service) GetQuiz(ctx context.Context, quizID string) (*domain.Quiz, error) {
	if q, ok := s.cache.Get(ctx, quizID); ok {
		return q, nil
	}

	q, err := s.loadQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, q); err != nil {
		slog.WarnContext(ctx, "catalog: cache quiz failed", "quiz", quizID, "error", err)
	}

	return q, nil
}

func (s *Service) loadQuiz(ctx context.Context, quizID string) (*domain.Quiz, error) {
	const (
		quizStmt = `
SELECT quiz_id, lesson_id, max_attempts, passing_percentage
FROM quizzes
WHERE quiz_id = $1;`

		questionsStmt = `
SELECT question_id, text, options, correct_option_index, points
FROM questions
WHERE quiz_id = $1
ORDER BY sort_order;`
	)

	var q domain.Quiz
	err := s.db.QueryRow(ctx, quizStmt, quizID).Scan(&q.QuizID, &q.LessonID, &q.MaxAttempts, &q.PassingPercentage)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("quiz not found: quiz=%s", quizID)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get quiz %s: %w", quizID, err)
	}

	rows, err := s.db.Query(ctx, questionsStmt, quizID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list questions %s: %w", quizID, err)
	}

	q.Questions, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Question, error) {
		var qs domain.Question
		err := r.Scan(&qs.QuestionID, &qs.Text, &qs.Options, &qs.CorrectOptionIndex, &qs.Points)
		return qs, err
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: scan questions %s: %w", quizID, err)
	}

	return &q, nil
}
