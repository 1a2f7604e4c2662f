package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/coursequiz/internal/api"
	"github.com/victornm/coursequiz/internal/domain"
	"github.com/victornm/coursequiz/internal/errors"
	"github.com/victornm/coursequiz/internal/event"
	"github.com/victornm/coursequiz/internal/quiz"
)

const secret = "test-secret"

func TestAPI_LessonVisibility(t *testing.T) {
	tests := map[string]struct {
		header     string
		wantStatus int
		wantUser   string
	}{
		"request without token should be served as guest": {
			wantStatus: http.StatusOK,
			wantUser:   "",
		},
		"valid token should identify the user": {
			header:     "Bearer " + sign(t, "u1", time.Hour),
			wantStatus: http.StatusOK,
			wantUser:   "u1",
		},
		"expired token should be rejected": {
			header:     "Bearer " + sign(t, "u1", -time.Hour),
			wantStatus: http.StatusUnauthorized,
		},
		"token signed with another secret should be rejected": {
			header:     "Bearer " + signWith(t, "other", "u1"),
			wantStatus: http.StatusUnauthorized,
		},
		"non bearer header should be rejected": {
			header:     "Basic dTE6cA==",
			wantStatus: http.StatusUnauthorized,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			qs := &stubQuiz{}
			e := makeAPI(t, qs, nil)

			req := httptest.NewRequest(http.MethodGet, "/v1/lessons/l1/visibility", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			e.ServeHTTP(w, req)

			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantStatus != http.StatusOK {
				return
			}

			require.Equal(t, tt.wantUser, qs.lastUserID)
			require.JSONEq(t, `{"lesson_id":"l1","access":"preview_locked"}`, w.Body.String())
		})
	}
}

func TestAPI_SectionVisibility(t *testing.T) {
	e := makeAPI(t, &stubQuiz{}, nil)

	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sections/s1/visibility", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{
		"section_id": "s1",
		"course_id": "c1",
		"title": {"en": "Basics", "ar": "الأساسيات"},
		"lessons": [
			{"lesson_id": "l1", "order": 1, "title": {"en": "Intro", "ar": ""}, "is_free": true, "has_video": true, "has_quiz": false, "access": "full"},
			{"lesson_id": "l2", "order": 2, "title": {"en": "Deep", "ar": ""}, "is_free": false, "has_video": false, "has_quiz": true, "access": "preview_locked"}
		]
	}`, w.Body.String())
}

func TestAPI_QuizPreview(t *testing.T) {
	e := makeAPI(t, &stubQuiz{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/quizzes/quiz1", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, "u1", time.Hour))
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotContains(t, w.Body.String(), "correct")

	var got api.QuizPreview
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, api.QuizSummary{QuizID: "quiz1", QuestionsCount: 2, TotalScore: "100", MaxAttempts: 3, PassingPercentage: 50}, got.Quiz)
	require.Equal(t, 2, got.RemainingAttempts)
	require.True(t, got.CanAttempt)
	require.Len(t, got.Attempts, 1)
	require.Equal(t, "60", got.Attempts[0].ObtainedScore)
}

func TestAPI_QuizQuestions(t *testing.T) {
	e := makeAPI(t, &stubQuiz{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/quizzes/quiz1/questions", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, "u1", time.Hour))
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{
		"id": "quiz1",
		"questions": [{"id": "q1", "text": "1 + 1?", "options": ["1", "2"], "points": "60"}],
		"remaining_attempts": 2
	}`, w.Body.String())
}

func TestAPI_SubmitQuiz(t *testing.T) {
	tests := map[string]struct {
		body       string
		submitErr  error
		wantStatus int
		wantReason errors.Reason
		wantCalled bool
	}{
		"valid submission should be created": {
			body:       `{"answers":[{"question_id":"q1","selected_option_index":0}]}`,
			wantStatus: http.StatusCreated,
			wantCalled: true,
		},
		"missing option index should be a validation error": {
			body:       `{"answers":[{"question_id":"q1"}]}`,
			wantStatus: http.StatusBadRequest,
			wantReason: errors.ReasonValidation,
		},
		"broken json should be a validation error": {
			body:       `{"answers":`,
			wantStatus: http.StatusBadRequest,
			wantReason: errors.ReasonValidation,
		},
		"exhausted attempts should be reported": {
			body:       `{"answers":[]}`,
			submitErr:  errors.AttemptLimitExceeded("no attempts remaining: used 3 of 3"),
			wantStatus: http.StatusTooManyRequests,
			wantReason: errors.ReasonAttemptLimitExceeded,
			wantCalled: true,
		},
		"locked lesson should be forbidden": {
			body:       `{"answers":[]}`,
			submitErr:  errors.Forbidden("lesson is locked"),
			wantStatus: http.StatusForbidden,
			wantReason: errors.ReasonForbidden,
			wantCalled: true,
		},
		"consistency failures should not leak details": {
			body:       `{"answers":[]}`,
			submitErr:  errors.InternalConsistency("attempt number already recorded: user=u9"),
			wantStatus: http.StatusInternalServerError,
			wantReason: errors.ReasonInternalConsistency,
			wantCalled: true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			qs := &stubQuiz{submitErr: tt.submitErr}
			e := makeAPI(t, qs, nil)

			req := httptest.NewRequest(http.MethodPost, "/v1/quizzes/quiz1/attempts", strings.NewReader(tt.body))
			req.Header.Set("Authorization", "Bearer "+sign(t, "u1", time.Hour))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			e.ServeHTTP(w, req)

			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			require.Equal(t, tt.wantCalled, qs.submitted != nil)
			assert.NotContains(t, w.Body.String(), "u9")

			if tt.wantReason != "" {
				var body struct {
					Error errors.Error `json:"error"`
				}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				require.Equal(t, tt.wantReason, body.Error.Reason)
				return
			}

			require.Equal(t, "u1", qs.submitted.UserID)
			require.Equal(t, "quiz1", qs.submitted.QuizID)
			require.Len(t, qs.submitted.Answers, 1)
			require.Equal(t, 0, qs.submitted.Answers[0].SelectedOptionIndex)

			var got api.SubmitQuizResult
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			require.Equal(t, 1, got.Attempt.AttemptNumber)
			require.Equal(t, 2, got.RemainingAttempts)
		})
	}
}

func TestAPI_PublishAttemptRecorded(t *testing.T) {
	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := rc.Subscribe(ctx, api.UserChannel("test", "u1"))
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err, "should confirm the subscription")

	eb := event.NewBus()
	makeAPI(t, &stubQuiz{}, func(c *api.Config) {
		c.EventBus = eb
		c.Redis = rc
		c.PubsubPrefix = "test"
	})

	eb.Publish(ctx, domain.EventAttemptRecorded{
		Attempt:           attempt("u1", 1),
		RemainingAttempts: 2,
	})
	eb.Stop()

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var n struct {
		Event string              `json:"event"`
		Data  api.AttemptRecorded `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
	require.Equal(t, domain.EventNameAttemptRecorded, n.Event)
	require.Equal(t, 1, n.Data.Attempt.AttemptNumber)
	require.Equal(t, 2, n.Data.RemainingAttempts)
}

func TestAPI_QuizStandings(t *testing.T) {
	qs := &stubQuiz{}
	e := makeAPI(t, qs, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/quizzes/quiz1/standings", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, "i1", time.Hour))
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "i1", qs.lastUserID)
	require.JSONEq(t, `{
		"quiz_id": "quiz1",
		"entries": [{"user_id": "u2", "best_percentage": 90}, {"user_id": "u1", "best_percentage": 60}]
	}`, w.Body.String())
}

func TestAPI_PublishStandingsUpdated(t *testing.T) {
	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := rc.Subscribe(ctx, api.QuizChannel("test", "quiz1"))
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err, "should confirm the subscription")

	eb := event.NewBus()
	makeAPI(t, &stubQuiz{}, func(c *api.Config) {
		c.EventBus = eb
		c.Redis = rc
		c.PubsubPrefix = "test"
	})

	eb.Publish(ctx, domain.EventStandingsUpdated{
		Standings: domain.Standings{QuizID: "quiz1", Entries: []domain.StandingEntry{{UserID: "u1", BestPercentage: 60}}},
	})
	eb.Stop()

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var n struct {
		Event string        `json:"event"`
		Data  api.Standings `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
	require.Equal(t, domain.EventNameStandingsUpdated, n.Event)
	require.Equal(t, api.Standings{QuizID: "quiz1", Entries: []api.StandingEntry{{UserID: "u1", BestPercentage: 60}}}, n.Data)
}

func makeAPI(t *testing.T, qs *stubQuiz, opt func(c *api.Config)) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	e := gin.New()
	c := api.Config{
		Router:   e,
		EventBus: event.NewBus(),
		Quiz:     qs,
		Auth:     api.NewAuthenticator(secret),
	}
	if opt != nil {
		opt(&c)
	}

	api.New(c)
	return e
}

func sign(t *testing.T, userID string, ttl time.Duration) string {
	s, err := api.NewAuthenticator(secret).Sign(userID, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	})
	require.NoError(t, err)
	return s
}

func signWith(t *testing.T, key, userID string) string {
	s, err := api.NewAuthenticator(key).Sign(userID, jwt.RegisteredClaims{})
	require.NoError(t, err)
	return s
}

func attempt(userID string, n int) domain.QuizAttempt {
	return domain.QuizAttempt{
		AttemptID:     "a1",
		QuizID:        "quiz1",
		UserID:        userID,
		AttemptNumber: n,
		Answers:       map[string]int{"q1": 1},
		ObtainedScore: decimal.NewFromInt(60),
		TotalScore:    decimal.NewFromInt(100),
		Percentage:    60,
		Passed:        true,
		SubmittedAt:   time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
	}
}

type stubQuiz struct {
	lastUserID string
	submitErr  error
	submitted  *quiz.SubmitQuizRequest
}

func (s *stubQuiz) LessonVisibility(_ context.Context, req quiz.LessonVisibilityRequest) (*quiz.LessonVisibilityResponse, error) {
	s.lastUserID = req.UserID
	return &quiz.LessonVisibilityResponse{
		LessonID: req.LessonID,
		Verdict:  domain.Verdict{Access: domain.AccessPreviewLocked, Grant: domain.GrantNone},
	}, nil
}

func (s *stubQuiz) SectionVisibility(_ context.Context, req quiz.SectionVisibilityRequest) (*quiz.SectionVisibilityResponse, error) {
	return &quiz.SectionVisibilityResponse{
		Section: domain.Section{SectionID: req.SectionID, CourseID: "c1", Order: 1, Title: domain.LocalizedText{En: "Basics", Ar: "الأساسيات"}},
		Lessons: []quiz.LessonAccess{
			{
				Lesson:  domain.Lesson{LessonID: "l1", SectionID: req.SectionID, Order: 1, Title: domain.LocalizedText{En: "Intro"}, IsFree: true, HasVideo: true},
				Verdict: domain.Verdict{Access: domain.AccessFull, Grant: domain.GrantFree},
			},
			{
				Lesson:  domain.Lesson{LessonID: "l2", SectionID: req.SectionID, Order: 2, Title: domain.LocalizedText{En: "Deep"}, QuizID: "quiz1"},
				Verdict: domain.Verdict{Access: domain.AccessPreviewLocked, Grant: domain.GrantNone},
			},
		},
	}, nil
}

func (s *stubQuiz) QuizPreview(_ context.Context, req quiz.QuizPreviewRequest) (*quiz.QuizPreviewResponse, error) {
	return &quiz.QuizPreviewResponse{
		QuizID:            req.QuizID,
		QuestionsCount:    2,
		TotalScore:        decimal.NewFromInt(100),
		MaxAttempts:       3,
		PassingPercentage: 50,
		Attempts:          []domain.QuizAttempt{attempt(req.UserID, 1)},
		RemainingAttempts: 2,
		CanAttempt:        true,
	}, nil
}

func (s *stubQuiz) QuizQuestions(_ context.Context, req quiz.QuizQuestionsRequest) (*quiz.QuizQuestionsResponse, error) {
	return &quiz.QuizQuestionsResponse{
		QuizID: req.QuizID,
		Questions: []quiz.PublicQuestion{
			{QuestionID: "q1", Text: "1 + 1?", Options: []string{"1", "2"}, Points: decimal.NewFromInt(60)},
		},
		RemainingAttempts: 2,
	}, nil
}

func (s *stubQuiz) SubmitQuiz(_ context.Context, req quiz.SubmitQuizRequest) (*quiz.SubmitQuizResponse, error) {
	s.submitted = &req
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	return &quiz.SubmitQuizResponse{
		Attempt:           attempt(req.UserID, 1),
		Correct:           map[string]bool{"q1": false},
		RemainingAttempts: 2,
	}, nil
}

func (s *stubQuiz) ListAttempts(_ context.Context, req quiz.ListAttemptsRequest) ([]domain.QuizAttempt, error) {
	return []domain.QuizAttempt{attempt(req.UserID, 1)}, nil
}

func (s *stubQuiz) QuizStandings(_ context.Context, req quiz.StandingsRequest) (*domain.Standings, error) {
	s.lastUserID = req.UserID
	return &domain.Standings{
		QuizID:  req.QuizID,
		Entries: []domain.StandingEntry{{UserID: "u2", BestPercentage: 90}, {UserID: "u1", BestPercentage: 60}},
	}, nil
}
