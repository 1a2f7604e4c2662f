package quiz

import (
	"context"
	"log/slog"
	"time"

	"github.com/victornm/coursequiz/internal/admission"
	"github.com/victornm/coursequiz/internal/attempt"
	"github.com/victornm/coursequiz/internal/domain"
	"github.com/victornm/coursequiz/internal/errors"
	"github.com/victornm/coursequiz/internal/scoring"
	"github.com/victornm/coursequiz/internal/telemetry"
)

type SubmitQuizRequest struct {
	UserID     string
	QuizID     string
	Answers    []scoring.Answer
	SubmitTime time.Time
}

type SubmitQuizResponse struct {
	Attempt           domain.QuizAttempt
	Correct           map[string]bool
	RemainingAttempts int
}

// SubmitQuiz grades a submission and records it as the viewer's next attempt.
//
// The request walks NOT_STARTED -> IN_PROGRESS (slot reserved) -> RECORDED, or ends
// REJECTED when no slot is left. Authorization and payload validation happen before a
// slot is reserved, so they never cost an attempt. Once reserved, the slot is spent
// even if grading fails or the caller goes away.
func (s *Service) SubmitQuiz(ctx context.Context, req SubmitQuizRequest) (*SubmitQuizResponse, error) {
	if req.UserID == "" {
		return nil, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("sign in to submit quiz %s", req.QuizID))
	}

	q, _, err := s.authorizeQuiz(ctx, req.UserID, req.QuizID)
	if err != nil {
		return nil, err
	}

	answers, err := scoring.ValidateAnswers(q, req.Answers)
	if err != nil {
		return nil, err
	}

	k := admission.Key{UserID: req.UserID, QuizID: q.QuizID}
	recorded, err := s.attempts.Count(ctx, k)
	if err != nil {
		return nil, err
	}

	d, err := s.admission.Admit(ctx, admission.AdmitRequest{
		Key:         k,
		MaxAttempts: q.MaxAttempts,
		Floor:       recorded,
	})
	if err != nil {
		return nil, err
	}

	switch d := d.(type) {
	case admission.Rejected:
		return nil, s.reject(ctx, d)
	case admission.Admitted:
		return s.record(context.WithoutCancel(ctx), q, d.Reservation, answers, req.SubmitTime)
	default:
		return nil, errors.InternalConsistency("unknown admission decision %T: %s", d, k)
	}
}

func (s *Service) reject(ctx context.Context, r admission.Rejected) error {
	telemetry.RecordAdmission(telemetry.AdmissionRejected)
	slog.InfoContext(ctx, "quiz: attempt rejected",
		"user", r.Key.UserID,
		"quiz", r.Key.QuizID,
		"used", r.Used,
		"max_attempts", r.MaxAttempts,
	)

	s.eb.Publish(ctx, domain.EventAttemptRejected{
		UserID:      r.Key.UserID,
		QuizID:      r.Key.QuizID,
		MaxAttempts: r.MaxAttempts,
	})

	return r.Err()
}

// record grades and persists an admitted submission. ctx must not be cancellable,
// a reservation is always written down once claimed.
func (s *Service) record(ctx context.Context, q *domain.Quiz, r *admission.Reservation, answers map[string]int, submitTime time.Time) (*SubmitQuizResponse, error) {
	telemetry.RecordAdmission(telemetry.AdmissionAdmitted)

	if submitTime.IsZero() {
		submitTime = s.now()
	}

	res, err := scoring.Grade(q, answers)
	if err != nil {
		slog.WarnContext(ctx, "quiz: grading failed, forfeiting attempt",
			"user", r.Key().UserID,
			"quiz", q.QuizID,
			"attempt", r.AttemptNumber(),
			"error", err,
		)
		res = nil
	}

	a, err := s.attempts.Persist(ctx, r, attempt.PersistRequest{
		MaxAttempts: q.MaxAttempts,
		TotalScore:  q.TotalScore(),
		Answers:     answers,
		Result:      res,
		SubmitTime:  submitTime,
	})
	if errors.Is(err, errors.ReasonInternalConsistency) {
		slog.ErrorContext(ctx, "quiz: attempt store rejected reservation",
			"user", r.Key().UserID,
			"quiz", q.QuizID,
			"attempt", r.AttemptNumber(),
			"error", err,
		)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	telemetry.RecordSubmission(a.Passed, a.Forfeited)

	n, err := s.attempts.Count(ctx, r.Key())
	if err != nil {
		return nil, err
	}
	remaining := attempt.Remaining(q.MaxAttempts, n)

	s.eb.Publish(ctx, domain.EventAttemptRecorded{
		Attempt:           *a,
		RemainingAttempts: remaining,
	})

	resp := &SubmitQuizResponse{
		Attempt:           *a,
		RemainingAttempts: remaining,
	}
	if res != nil {
		resp.Correct = res.Correct
	}

	return resp, nil
}
