package quiz

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/coursequiz/internal/admission"
	"github.com/victornm/coursequiz/internal/attempt"
	"github.com/victornm/coursequiz/internal/domain"
	"github.com/victornm/coursequiz/internal/errors"
	"github.com/victornm/coursequiz/internal/event"
	"github.com/victornm/coursequiz/internal/visibility"
)

type Catalog interface {
	GetLessonContext(ctx context.Context, lessonID string) (*domain.LessonContext, error)
	ListSectionLessons(ctx context.Context, sectionID string) (*domain.Section, []domain.Lesson, error)
	GetQuiz(ctx context.Context, quizID string) (*domain.Quiz, error)
}

type Viewers interface {
	GetViewer(ctx context.Context, userID string) (domain.Viewer, error)
}

type Admission interface {
	Admit(ctx context.Context, req admission.AdmitRequest) (admission.Decision, error)
}

type Attempts interface {
	Persist(ctx context.Context, r *admission.Reservation, req attempt.PersistRequest) (*domain.QuizAttempt, error)
	List(ctx context.Context, k admission.Key) ([]domain.QuizAttempt, error)
	Count(ctx context.Context, k admission.Key) (int, error)
}

type Standings interface {
	GetStandings(ctx context.Context, quizID string) (*domain.Standings, error)
}

type Config struct {
	EventBus  *event.Bus
	Catalog   Catalog
	Viewers   Viewers
	Admission Admission
	Attempts  Attempts
	Standings Standings
	// PassingPercentage applies to quizzes stored without their own threshold.
	PassingPercentage int
	Now               func() time.Time
}

type Service struct {
	eb        *event.Bus
	catalog   Catalog
	viewers   Viewers
	admission Admission
	attempts  Attempts
	standings Standings
	passing   int
	now       func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		eb:        c.EventBus,
		catalog:   c.Catalog,
		viewers:   c.Viewers,
		admission: c.Admission,
		attempts:  c.Attempts,
		standings: c.Standings,
		passing:   c.PassingPercentage,
		now:       c.Now,
	}

	if s.passing <= 0 {
		s.passing = domain.DefaultPassingPercentage
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s
}

type LessonVisibilityRequest struct {
	UserID   string
	LessonID string
}

type LessonVisibilityResponse struct {
	LessonID string
	Verdict  domain.Verdict
}

// LessonVisibility resolves the access level of the viewer for one lesson.
func (s *Service) LessonVisibility(ctx context.Context, req LessonVisibilityRequest) (*LessonVisibilityResponse, error) {
	lc, err := s.catalog.GetLessonContext(ctx, req.LessonID)
	if err != nil {
		return nil, err
	}

	v, err := s.viewers.GetViewer(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	return &LessonVisibilityResponse{
		LessonID: lc.LessonID,
		Verdict:  visibility.Resolve(v, *lc),
	}, nil
}

type SectionVisibilityRequest struct {
	UserID    string
	SectionID string
}

type LessonAccess struct {
	Lesson  domain.Lesson
	Verdict domain.Verdict
}

type SectionVisibilityResponse struct {
	Section domain.Section
	Lessons []LessonAccess
}

// SectionVisibility resolves every lesson of a section with one catalog read and one viewer read.
func (s *Service) SectionVisibility(ctx context.Context, req SectionVisibilityRequest) (*SectionVisibilityResponse, error) {
	sec, lessons, err := s.catalog.ListSectionLessons(ctx, req.SectionID)
	if err != nil {
		return nil, err
	}

	v, err := s.viewers.GetViewer(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	lcs := make([]domain.LessonContext, 0, len(lessons))
	for _, l := range lessons {
		lcs = append(lcs, l.Context(sec.CourseID))
	}

	resp := &SectionVisibilityResponse{
		Section: *sec,
		Lessons: make([]LessonAccess, 0, len(lessons)),
	}
	for i, verdict := range visibility.ResolveAll(v, lcs) {
		resp.Lessons = append(resp.Lessons, LessonAccess{
			Lesson:  lessons[i],
			Verdict: verdict,
		})
	}

	return resp, nil
}

type QuizPreviewRequest struct {
	UserID string
	QuizID string
}

type QuizPreviewResponse struct {
	QuizID            string
	QuestionsCount    int
	TotalScore        decimal.Decimal
	MaxAttempts       int
	PassingPercentage int
	Attempts          []domain.QuizAttempt
	RemainingAttempts int
	CanAttempt        bool
}

// QuizPreview summarizes a quiz and the viewer's attempts on it. Correct answers are never included.
func (s *Service) QuizPreview(ctx context.Context, req QuizPreviewRequest) (*QuizPreviewResponse, error) {
	q, _, err := s.authorizeQuiz(ctx, req.UserID, req.QuizID)
	if err != nil {
		return nil, err
	}

	resp := &QuizPreviewResponse{
		QuizID:            q.QuizID,
		QuestionsCount:    len(q.Questions),
		TotalScore:        q.TotalScore(),
		MaxAttempts:       q.MaxAttempts,
		PassingPercentage: q.PassingPercentage,
		Attempts:          []domain.QuizAttempt{},
	}

	// Guests can read a free quiz but cannot attempt it.
	if req.UserID == "" {
		return resp, nil
	}

	resp.Attempts, err = s.attempts.List(ctx, admission.Key{UserID: req.UserID, QuizID: q.QuizID})
	if err != nil {
		return nil, err
	}

	resp.RemainingAttempts = attempt.Remaining(q.MaxAttempts, len(resp.Attempts))
	resp.CanAttempt = resp.RemainingAttempts > 0
	return resp, nil
}

type QuizQuestionsRequest struct {
	UserID string
	QuizID string
}

type PublicQuestion struct {
	QuestionID string
	Text       string
	Options    []string
	Points     decimal.Decimal
}

type QuizQuestionsResponse struct {
	QuizID            string
	Questions         []PublicQuestion
	RemainingAttempts int
}

// QuizQuestions returns the questions to answer, with correct answers stripped.
// It is only served while the viewer has attempts left.
func (s *Service) QuizQuestions(ctx context.Context, req QuizQuestionsRequest) (*QuizQuestionsResponse, error) {
	if req.UserID == "" {
		return nil, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("sign in to attempt quiz %s", req.QuizID))
	}

	q, _, err := s.authorizeQuiz(ctx, req.UserID, req.QuizID)
	if err != nil {
		return nil, err
	}

	n, err := s.attempts.Count(ctx, admission.Key{UserID: req.UserID, QuizID: q.QuizID})
	if err != nil {
		return nil, err
	}

	remaining := attempt.Remaining(q.MaxAttempts, n)
	if remaining == 0 {
		return nil, admission.Rejected{Used: n, MaxAttempts: q.MaxAttempts}.Err()
	}

	resp := &QuizQuestionsResponse{
		QuizID:            q.QuizID,
		Questions:         make([]PublicQuestion, 0, len(q.Questions)),
		RemainingAttempts: remaining,
	}
	for _, qs := range q.Questions {
		resp.Questions = append(resp.Questions, PublicQuestion{
			QuestionID: qs.QuestionID,
			Text:       qs.Text,
			Options:    qs.Options,
			Points:     qs.Points,
		})
	}

	return resp, nil
}

type ListAttemptsRequest struct {
	UserID string
	QuizID string
}

// ListAttempts returns the viewer's own attempts on a quiz, most recent first.
func (s *Service) ListAttempts(ctx context.Context, req ListAttemptsRequest) ([]domain.QuizAttempt, error) {
	if req.UserID == "" {
		return nil, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("sign in to list attempts of quiz %s", req.QuizID))
	}

	q, _, err := s.authorizeQuiz(ctx, req.UserID, req.QuizID)
	if err != nil {
		return nil, err
	}

	return s.attempts.List(ctx, admission.Key{UserID: req.UserID, QuizID: q.QuizID})
}

type StandingsRequest struct {
	UserID string
	QuizID string
}

// QuizStandings ranks the users of a quiz by best percentage. Only the course owner and admins can read it.
func (s *Service) QuizStandings(ctx context.Context, req StandingsRequest) (*domain.Standings, error) {
	if req.UserID == "" {
		return nil, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("sign in to read standings of quiz %s", req.QuizID))
	}

	q, v, err := s.authorizeQuiz(ctx, req.UserID, req.QuizID)
	if err != nil {
		return nil, err
	}

	if v.Grant != domain.GrantAdmin && v.Grant != domain.GrantOwner {
		return nil, errors.Forbidden("standings are restricted to the course owner: quiz=%s", q.QuizID)
	}

	return s.standings.GetStandings(ctx, q.QuizID)
}

// authorizeQuiz loads the quiz and fails unless the viewer has full access to its lesson.
func (s *Service) authorizeQuiz(ctx context.Context, userID, quizID string) (*domain.Quiz, domain.Verdict, error) {
	q, err := s.catalog.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, domain.Verdict{}, err
	}
	if q.PassingPercentage <= 0 {
		q.PassingPercentage = s.passing
	}

	lc, err := s.catalog.GetLessonContext(ctx, q.LessonID)
	if err != nil {
		return nil, domain.Verdict{}, fmt.Errorf("quiz: lesson of quiz %s: %w", quizID, err)
	}

	v, err := s.viewers.GetViewer(ctx, userID)
	if err != nil {
		return nil, domain.Verdict{}, err
	}

	verdict := visibility.Resolve(v, *lc)
	if !verdict.Full() {
		return nil, verdict, errors.Forbidden("lesson is locked: lesson=%s quiz=%s", lc.LessonID, quizID)
	}

	return q, verdict, nil
}
