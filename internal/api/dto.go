package api

import (
	"time"

	"github.com/victornm/coursequiz/internal/domain"
	"github.com/victornm/coursequiz/internal/quiz"
)

type (
	LessonVisibility struct {
		LessonID string `json:"lesson_id"`
		Access   string `json:"access"`
	}

	SectionVisibility struct {
		SectionID string               `json:"section_id"`
		CourseID  string               `json:"course_id"`
		Title     domain.LocalizedText `json:"title"`
		Lessons   []LessonSummary      `json:"lessons"`
	}

	// LessonSummary is the lesson metadata visible even when the lesson is locked.
	LessonSummary struct {
		LessonID string               `json:"lesson_id"`
		Order    int                  `json:"order"`
		Title    domain.LocalizedText `json:"title"`
		IsFree   bool                 `json:"is_free"`
		HasVideo bool                 `json:"has_video"`
		HasQuiz  bool                 `json:"has_quiz"`
		Access   string               `json:"access"`
	}

	QuizPreview struct {
		Quiz              QuizSummary `json:"quiz"`
		Attempts          []Attempt   `json:"attempts"`
		RemainingAttempts int         `json:"remaining_attempts"`
		CanAttempt        bool        `json:"can_attempt"`
	}

	QuizSummary struct {
		QuizID            string `json:"id"`
		QuestionsCount    int    `json:"questions_count"`
		TotalScore        string `json:"total_score"`
		MaxAttempts       int    `json:"max_attempts"`
		PassingPercentage int    `json:"passing_percentage"`
	}

	QuizQuestions struct {
		QuizID            string     `json:"id"`
		Questions         []Question `json:"questions"`
		RemainingAttempts int        `json:"remaining_attempts"`
	}

	Question struct {
		QuestionID string   `json:"id"`
		Text       string   `json:"text"`
		Options    []string `json:"options"`
		Points     string   `json:"points"`
	}

	SubmitQuizBody struct {
		Answers []SubmittedAnswer `json:"answers" binding:"dive"`
	}

	SubmittedAnswer struct {
		QuestionID          string `json:"question_id" binding:"required"`
		SelectedOptionIndex *int   `json:"selected_option_index" binding:"required"`
	}

	SubmitQuizResult struct {
		Attempt           Attempt         `json:"attempt"`
		Correct           map[string]bool `json:"correct,omitempty"`
		RemainingAttempts int             `json:"remaining_attempts"`
	}

	Attempt struct {
		AttemptID     string         `json:"id"`
		QuizID        string         `json:"quiz_id"`
		AttemptNumber int            `json:"attempt_number"`
		Answers       map[string]int `json:"answers"`
		ObtainedScore string         `json:"obtained_score"`
		TotalScore    string         `json:"total_score"`
		Percentage    int            `json:"percentage"`
		Passed        bool           `json:"passed"`
		Forfeited     bool           `json:"forfeited"`
		SubmittedAt   time.Time      `json:"submitted_at"`
	}

	Standings struct {
		QuizID  string          `json:"quiz_id"`
		Entries []StandingEntry `json:"entries"`
	}

	StandingEntry struct {
		UserID         string `json:"user_id"`
		BestPercentage int    `json:"best_percentage"`
	}
)

func toSectionVisibility(r *quiz.SectionVisibilityResponse) SectionVisibility {
	sv := SectionVisibility{
		SectionID: r.Section.SectionID,
		CourseID:  r.Section.CourseID,
		Title:     r.Section.Title,
		Lessons:   make([]LessonSummary, 0, len(r.Lessons)),
	}

	for _, la := range r.Lessons {
		sv.Lessons = append(sv.Lessons, LessonSummary{
			LessonID: la.Lesson.LessonID,
			Order:    la.Lesson.Order,
			Title:    la.Lesson.Title,
			IsFree:   la.Lesson.IsFree,
			HasVideo: la.Lesson.HasVideo,
			HasQuiz:  la.Lesson.QuizID != "",
			Access:   string(la.Verdict.Access),
		})
	}

	return sv
}

func toQuizPreview(r *quiz.QuizPreviewResponse) QuizPreview {
	return QuizPreview{
		Quiz: QuizSummary{
			QuizID:            r.QuizID,
			QuestionsCount:    r.QuestionsCount,
			TotalScore:        r.TotalScore.String(),
			MaxAttempts:       r.MaxAttempts,
			PassingPercentage: r.PassingPercentage,
		},
		Attempts:          toAttempts(r.Attempts),
		RemainingAttempts: r.RemainingAttempts,
		CanAttempt:        r.CanAttempt,
	}
}

func toQuizQuestions(r *quiz.QuizQuestionsResponse) QuizQuestions {
	qq := QuizQuestions{
		QuizID:            r.QuizID,
		Questions:         make([]Question, 0, len(r.Questions)),
		RemainingAttempts: r.RemainingAttempts,
	}

	for _, q := range r.Questions {
		qq.Questions = append(qq.Questions, Question{
			QuestionID: q.QuestionID,
			Text:       q.Text,
			Options:    q.Options,
			Points:     q.Points.String(),
		})
	}

	return qq
}

func toAttempts(as []domain.QuizAttempt) []Attempt {
	out := make([]Attempt, 0, len(as))
	for _, a := range as {
		out = append(out, toAttempt(a))
	}
	return out
}

func toAttempt(a domain.QuizAttempt) Attempt {
	return Attempt{
		AttemptID:     a.AttemptID,
		QuizID:        a.QuizID,
		AttemptNumber: a.AttemptNumber,
		Answers:       a.Answers,
		ObtainedScore: a.ObtainedScore.String(),
		TotalScore:    a.TotalScore.String(),
		Percentage:    a.Percentage,
		Passed:        a.Passed,
		Forfeited:     a.Forfeited,
		SubmittedAt:   a.SubmittedAt,
	}
}

func toStandings(st domain.Standings) Standings {
	entries := make([]StandingEntry, 0, len(st.Entries))
	for _, e := range st.Entries {
		entries = append(entries, StandingEntry{UserID: e.UserID, BestPercentage: e.BestPercentage})
	}
	return Standings{QuizID: st.QuizID, Entries: entries}
}
