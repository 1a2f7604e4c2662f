package quiz_test

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/victornm/coursequiz/internal/admission"
	"github.com/victornm/coursequiz/internal/attempt"
	"github.com/victornm/coursequiz/internal/domain"
	"github.com/victornm/coursequiz/internal/errors"
)

type fakeCatalog struct {
	sections map[string]domain.Section
	lessons  map[string]domain.Lesson
	quizzes  map[string]domain.Quiz
}

func (c *fakeCatalog) GetLessonContext(_ context.Context, lessonID string) (*domain.LessonContext, error) {
	l, ok := c.lessons[lessonID]
	if !ok {
		return nil, errors.NotFound("lesson not found: lesson=%s", lessonID)
	}
	lc := l.Context(c.sections[l.SectionID].CourseID)
	return &lc, nil
}

func (c *fakeCatalog) ListSectionLessons(_ context.Context, sectionID string) (*domain.Section, []domain.Lesson, error) {
	sec, ok := c.sections[sectionID]
	if !ok {
		return nil, nil, errors.NotFound("section not found: section=%s", sectionID)
	}

	var ls []domain.Lesson
	for _, l := range c.lessons {
		if l.SectionID == sectionID {
			ls = append(ls, l)
		}
	}
	sort.Slice(ls, func(i, j int) bool { return ls[i].Order < ls[j].Order })
	return &sec, ls, nil
}

func (c *fakeCatalog) GetQuiz(_ context.Context, quizID string) (*domain.Quiz, error) {
	q, ok := c.quizzes[quizID]
	if !ok {
		return nil, errors.NotFound("quiz not found: quiz=%s", quizID)
	}
	q.Questions = append([]domain.Question(nil), q.Questions...)
	return &q, nil
}

type fakeViewers map[string]domain.Viewer

func (f fakeViewers) GetViewer(_ context.Context, userID string) (domain.Viewer, error) {
	if userID == "" {
		return domain.Guest(), nil
	}
	v, ok := f[userID]
	if !ok {
		return domain.Viewer{}, errors.New(errors.CodeUnauthenticated)
	}
	return v, nil
}

// fakeAttempts mirrors the checks of the Postgres store.
type fakeAttempts struct {
	mu       sync.Mutex
	attempts map[admission.Key][]domain.QuizAttempt
	// persistCtxErr records the context error seen by each Persist call.
	persistCtxErr []error
}

func newFakeAttempts() *fakeAttempts {
	return &fakeAttempts{attempts: make(map[admission.Key][]domain.QuizAttempt)}
}

func (f *fakeAttempts) Persist(ctx context.Context, r *admission.Reservation, req attempt.PersistRequest) (*domain.QuizAttempt, error) {
	if err := r.Consume(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.persistCtxErr = append(f.persistCtxErr, ctx.Err())

	k, n := r.Key(), r.AttemptNumber()
	if n < 1 || n > req.MaxAttempts {
		return nil, errors.InternalConsistency("attempt number out of range %d", n)
	}
	if len(f.attempts[k]) >= req.MaxAttempts {
		return nil, errors.InternalConsistency("attempt ceiling reached %d", n)
	}
	for _, a := range f.attempts[k] {
		if a.AttemptNumber == n {
			return nil, errors.InternalConsistency("duplicate attempt number %d", n)
		}
	}

	a := domain.QuizAttempt{
		AttemptID:     k.UserID + "-" + k.QuizID,
		QuizID:        k.QuizID,
		UserID:        k.UserID,
		AttemptNumber: n,
		Answers:       req.Answers,
		SubmittedAt:   req.SubmitTime,
		TotalScore:    req.TotalScore,
		Forfeited:     req.Result == nil,
	}
	if req.Result != nil {
		a.ObtainedScore = req.Result.ObtainedScore
		a.TotalScore = req.Result.TotalScore
		a.Percentage = req.Result.Percentage
		a.Passed = req.Result.Passed
	}
	f.attempts[k] = append(f.attempts[k], a)
	return &a, nil
}

func (f *fakeAttempts) List(_ context.Context, k admission.Key) ([]domain.QuizAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	as := append([]domain.QuizAttempt{}, f.attempts[k]...)
	sort.Slice(as, func(i, j int) bool { return as[i].AttemptNumber > as[j].AttemptNumber })
	return as, nil
}

func (f *fakeAttempts) Count(_ context.Context, k admission.Key) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.attempts[k]), nil
}

func (f *fakeAttempts) numbers(k admission.Key) []int {
	f.mu.Lock()
	defer f.mu.Unlock()

	var ns []int
	for _, a := range f.attempts[k] {
		ns = append(ns, a.AttemptNumber)
	}
	sort.Ints(ns)
	return ns
}

// cancellingAdmission cancels the request right after a slot is claimed.
type cancellingAdmission struct {
	next   *admission.Controller
	cancel context.CancelFunc
}

func (c cancellingAdmission) Admit(_ context.Context, req admission.AdmitRequest) (admission.Decision, error) {
	d, err := c.next.Admit(context.Background(), req)
	c.cancel()
	return d, err
}

// holdingAttempts delays persisting attempt number hold until every other
// attempt of the same call set has been persisted.
type holdingAttempts struct {
	*fakeAttempts
	hold    int
	others  sync.WaitGroup
	persist []int
	mu      sync.Mutex
}

func newHoldingAttempts(hold, others int) *holdingAttempts {
	h := &holdingAttempts{fakeAttempts: newFakeAttempts(), hold: hold}
	h.others.Add(others)
	return h
}

func (h *holdingAttempts) Persist(ctx context.Context, r *admission.Reservation, req attempt.PersistRequest) (*domain.QuizAttempt, error) {
	if r.AttemptNumber() == h.hold {
		h.others.Wait()
	} else {
		defer h.others.Done()
	}

	a, err := h.fakeAttempts.Persist(ctx, r, req)

	h.mu.Lock()
	h.persist = append(h.persist, r.AttemptNumber())
	h.mu.Unlock()
	return a, err
}

func (h *holdingAttempts) order() []int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]int(nil), h.persist...)
}

// flakyAttempts fails the first Persist after consuming its reservation.
type flakyAttempts struct {
	*fakeAttempts
	failed atomic.Bool
}

func (f *flakyAttempts) Persist(ctx context.Context, r *admission.Reservation, req attempt.PersistRequest) (*domain.QuizAttempt, error) {
	if f.failed.CompareAndSwap(false, true) {
		if err := r.Consume(); err != nil {
			return nil, err
		}
		return nil, stderrors.New("connection reset by peer")
	}
	return f.fakeAttempts.Persist(ctx, r, req)
}
