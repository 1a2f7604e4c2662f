package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/coursequiz/internal/domain"
	"github.com/victornm/coursequiz/internal/errors"
	"github.com/victornm/coursequiz/internal/event"
	"github.com/victornm/coursequiz/internal/quiz"
	"github.com/victornm/coursequiz/internal/scoring"
)

type Quiz interface {
	LessonVisibility(ctx context.Context, req quiz.LessonVisibilityRequest) (*quiz.LessonVisibilityResponse, error)
	SectionVisibility(ctx context.Context, req quiz.SectionVisibilityRequest) (*quiz.SectionVisibilityResponse, error)
	QuizPreview(ctx context.Context, req quiz.QuizPreviewRequest) (*quiz.QuizPreviewResponse, error)
	QuizQuestions(ctx context.Context, req quiz.QuizQuestionsRequest) (*quiz.QuizQuestionsResponse, error)
	SubmitQuiz(ctx context.Context, req quiz.SubmitQuizRequest) (*quiz.SubmitQuizResponse, error)
	ListAttempts(ctx context.Context, req quiz.ListAttemptsRequest) ([]domain.QuizAttempt, error)
	QuizStandings(ctx context.Context, req quiz.StandingsRequest) (*domain.Standings, error)
}

type Config struct {
	Router       gin.IRouter
	EventBus     *event.Bus
	Quiz         Quiz
	Auth         *Authenticator
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	qs Quiz

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		qs:     c.Quiz,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
	}

	// HTTP APIs
	v1 := c.Router.Group("/v1", c.Auth.Middleware)
	v1.GET("/lessons/:lessonID/visibility", a.LessonVisibility)
	v1.GET("/sections/:sectionID/visibility", a.SectionVisibility)
	v1.GET("/quizzes/:quizID", a.QuizPreview)
	v1.GET("/quizzes/:quizID/questions", a.QuizQuestions)
	v1.GET("/quizzes/:quizID/attempts", a.ListAttempts)
	v1.POST("/quizzes/:quizID/attempts", a.SubmitQuiz)
	v1.GET("/quizzes/:quizID/standings", a.QuizStandings)

	// Register event handlers
	c.EventBus.Subscribe(domain.EventNameAttemptRecorded, func(ctx context.Context, e event.Event) error {
		return a.PublishAttemptRecorded(ctx, e.(domain.EventAttemptRecorded))
	})

	c.EventBus.Subscribe(domain.EventNameStandingsUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishStandingsUpdated(ctx, e.(domain.EventStandingsUpdated))
	})

	return a
}

func (a *API) LessonVisibility(c *gin.Context) {
	resp, err := a.qs.LessonVisibility(c.Request.Context(), quiz.LessonVisibilityRequest{
		UserID:   userID(c),
		LessonID: c.Param("lessonID"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, LessonVisibility{
		LessonID: resp.LessonID,
		Access:   string(resp.Verdict.Access),
	})
}

func (a *API) SectionVisibility(c *gin.Context) {
	resp, err := a.qs.SectionVisibility(c.Request.Context(), quiz.SectionVisibilityRequest{
		UserID:    userID(c),
		SectionID: c.Param("sectionID"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSectionVisibility(resp))
}

func (a *API) QuizPreview(c *gin.Context) {
	resp, err := a.qs.QuizPreview(c.Request.Context(), quiz.QuizPreviewRequest{
		UserID: userID(c),
		QuizID: c.Param("quizID"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toQuizPreview(resp))
}

func (a *API) QuizQuestions(c *gin.Context) {
	resp, err := a.qs.QuizQuestions(c.Request.Context(), quiz.QuizQuestionsRequest{
		UserID: userID(c),
		QuizID: c.Param("quizID"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toQuizQuestions(resp))
}

func (a *API) ListAttempts(c *gin.Context) {
	as, err := a.qs.ListAttempts(c.Request.Context(), quiz.ListAttemptsRequest{
		UserID: userID(c),
		QuizID: c.Param("quizID"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"attempts": toAttempts(as)})
}

func (a *API) SubmitQuiz(c *gin.Context) {
	var body SubmitQuizBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errors.Validation("invalid submission body: %v", err))
		return
	}

	answers := make([]scoring.Answer, 0, len(body.Answers))
	for _, ans := range body.Answers {
		answers = append(answers, scoring.Answer{
			QuestionID:          ans.QuestionID,
			SelectedOptionIndex: *ans.SelectedOptionIndex,
		})
	}

	resp, err := a.qs.SubmitQuiz(c.Request.Context(), quiz.SubmitQuizRequest{
		UserID:  userID(c),
		QuizID:  c.Param("quizID"),
		Answers: answers,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, SubmitQuizResult{
		Attempt:           toAttempt(resp.Attempt),
		Correct:           resp.Correct,
		RemainingAttempts: resp.RemainingAttempts,
	})
}

func (a *API) QuizStandings(c *gin.Context) {
	st, err := a.qs.QuizStandings(c.Request.Context(), quiz.StandingsRequest{
		UserID: userID(c),
		QuizID: c.Param("quizID"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toStandings(*st))
}

func writeError(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"reason", e.Reason,
			"error", err,
		)
		e = errors.New(errors.CodeInternal, errors.WithReason(e.Reason))
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{"error": e})
}
