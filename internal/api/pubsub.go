package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/victornm/coursequiz/internal/domain"
)

type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type AttemptRecorded struct {
	Attempt           Attempt `json:"attempt"`
	RemainingAttempts int     `json:"remaining_attempts"`
}

// PublishAttemptRecorded notifies the attempt's owner on their user channel.
func (a *API) PublishAttemptRecorded(ctx context.Context, e domain.EventAttemptRecorded) error {
	return a.publishNotification(ctx, e.Attempt.UserID, e.Name(), AttemptRecorded{
		Attempt:           toAttempt(e.Attempt),
		RemainingAttempts: e.RemainingAttempts,
	})
}

// PublishStandingsUpdated broadcasts the new standings on the quiz channel.
func (a *API) PublishStandingsUpdated(ctx context.Context, e domain.EventStandingsUpdated) error {
	return a.publish(ctx, QuizChannel(a.prefix, e.Standings.QuizID), e.Name(), toStandings(e.Standings))
}

func (a *API) publishNotification(ctx context.Context, user, event string, data any) error {
	return a.publish(ctx, UserChannel(a.prefix, user), event, data)
}

func (a *API) publish(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, channel, b).Err()
}

func UserChannel(prefix, user string) string {
	return fmt.Sprintf("%s:user:%s", prefix, user)
}

func QuizChannel(prefix, quiz string) string {
	return fmt.Sprintf("%s:quiz:%s", prefix, quiz)
}
