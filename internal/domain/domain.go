package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultPassingPercentage is used when a quiz does not carry its own threshold.
const DefaultPassingPercentage = 50

// LocalizedText holds the bilingual variants of a piece of catalog text.
type LocalizedText struct {
	En string `json:"en"`
	Ar string `json:"ar"`
}

type Section struct {
	SectionID   string
	CourseID    string
	Order       int
	Title       LocalizedText
	Description LocalizedText
}

type Lesson struct {
	LessonID  string
	SectionID string
	Order     int
	Title     LocalizedText
	IsFree    bool
	HasVideo  bool
	// QuizID is empty when the lesson has no quiz.
	QuizID string
}

// LessonContext is the slice of the catalog needed to authorize access to a lesson.
type LessonContext struct {
	LessonID  string
	SectionID string
	CourseID  string
	IsFree    bool
	QuizID    string
}

// Quiz is the full quiz definition, including the correct answers.
// It must never be sent to a client as is.
type Quiz struct {
	QuizID            string
	LessonID          string
	Questions         []Question
	MaxAttempts       int
	PassingPercentage int
}

// TotalScore is the sum of points over all questions.
func (q Quiz) TotalScore() decimal.Decimal {
	total := decimal.Zero
	for _, qs := range q.Questions {
		total = total.Add(qs.Points)
	}
	return total
}

type Question struct {
	QuestionID         string
	Text               string
	Options            []string
	CorrectOptionIndex int
	Points             decimal.Decimal
}

// QuizAttempt is an immutable record of one graded submission.
type QuizAttempt struct {
	AttemptID     string
	QuizID        string
	UserID        string
	AttemptNumber int
	Answers       map[string]int
	ObtainedScore decimal.Decimal
	TotalScore    decimal.Decimal
	Percentage    int
	Passed        bool
	// Forfeited marks an attempt whose reservation was consumed but could not be graded.
	Forfeited   bool
	SubmittedAt time.Time
}

// Context returns the authorization view of the lesson within the given course.
func (l Lesson) Context(courseID string) LessonContext {
	return LessonContext{
		LessonID:  l.LessonID,
		SectionID: l.SectionID,
		CourseID:  courseID,
		IsFree:    l.IsFree,
		QuizID:    l.QuizID,
	}
}

// Standings ranks the users of a quiz by their best graded percentage.
type Standings struct {
	QuizID  string
	Entries []StandingEntry
}

type StandingEntry struct {
	UserID         string
	BestPercentage int
}
