package domain

const (
	EventNameAttemptRecorded = "attempt.recorded"
	EventNameAttemptRejected = "attempt.rejected"
)

type EventAttemptRecorded struct {
	Attempt           QuizAttempt
	RemainingAttempts int
}

func (EventAttemptRecorded) Name() string { return EventNameAttemptRecorded }

type EventAttemptRejected struct {
	UserID      string
	QuizID      string
	MaxAttempts int
}

func (EventAttemptRejected) Name() string { return EventNameAttemptRejected }

const EventNameStandingsUpdated = "standings.updated"

type EventStandingsUpdated struct {
	Standings Standings
}

func (EventStandingsUpdated) Name() string { return EventNameStandingsUpdated }
