package scoring

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/victornm/coursequiz/internal/domain"
	"github.com/victornm/coursequiz/internal/errors"
)

var hundred = decimal.NewFromInt(100)

// Answer is a single submitted answer, as received from a client.
type Answer struct {
	QuestionID          string
	SelectedOptionIndex int
}

// Result is the graded outcome of a submission.
type Result struct {
	ObtainedScore decimal.Decimal
	TotalScore    decimal.Decimal
	Percentage    int
	Passed        bool
	// Correct reports per question correctness, keyed by question ID.
	Correct map[string]bool
}

// ValidateAnswers checks a submitted payload against the quiz shape and returns it as a
// question ID to option index mapping. Unanswered questions are allowed.
func ValidateAnswers(q *domain.Quiz, answers []Answer) (map[string]int, error) {
	options := make(map[string]int, len(q.Questions))
	for _, qs := range q.Questions {
		options[qs.QuestionID] = len(qs.Options)
	}

	m := make(map[string]int, len(answers))
	for _, a := range answers {
		n, ok := options[a.QuestionID]
		if !ok {
			return nil, errors.Validation("unknown question: quiz=%s question=%s", q.QuizID, a.QuestionID)
		}
		if _, dup := m[a.QuestionID]; dup {
			return nil, errors.Validation("question answered more than once: question=%s", a.QuestionID)
		}
		if a.SelectedOptionIndex < 0 || a.SelectedOptionIndex >= n {
			return nil, errors.Validation("option index out of range: question=%s index=%d options=%d", a.QuestionID, a.SelectedOptionIndex, n)
		}
		m[a.QuestionID] = a.SelectedOptionIndex
	}

	return m, nil
}

// Grade scores answers against the quiz definition. A missing answer scores zero for its question.
func Grade(q *domain.Quiz, answers map[string]int) (*Result, error) {
	if len(q.Questions) == 0 {
		return nil, fmt.Errorf("scoring: quiz %s has no questions", q.QuizID)
	}

	r := &Result{
		ObtainedScore: decimal.Zero,
		TotalScore:    decimal.Zero,
		Correct:       make(map[string]bool, len(q.Questions)),
	}

	for _, qs := range q.Questions {
		if !qs.Points.IsPositive() {
			return nil, fmt.Errorf("scoring: question %s has non positive points %s", qs.QuestionID, qs.Points)
		}
		r.TotalScore = r.TotalScore.Add(qs.Points)

		selected, ok := answers[qs.QuestionID]
		correct := ok && selected == qs.CorrectOptionIndex
		r.Correct[qs.QuestionID] = correct
		if correct {
			r.ObtainedScore = r.ObtainedScore.Add(qs.Points)
		}
	}

	r.Percentage = Percentage(r.ObtainedScore, r.TotalScore)
	r.Passed = r.Percentage >= PassingPercentage(q)
	return r, nil
}

// Percentage returns round(100 * obtained / total), rounding halves up.
func Percentage(obtained, total decimal.Decimal) int {
	if !total.IsPositive() {
		return 0
	}
	// Round is half away from zero, which is half up for non negative scores.
	return int(obtained.Mul(hundred).Div(total).Round(0).IntPart())
}

func PassingPercentage(q *domain.Quiz) int {
	if q.PassingPercentage <= 0 {
		return domain.DefaultPassingPercentage
	}
	return q.PassingPercentage
}
