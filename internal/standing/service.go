package standing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/coursequiz/internal/domain"
	"github.com/victornm/coursequiz/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

// Service keeps the best graded percentage of every user per quiz in a sorted set.
type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameAttemptRecorded, func(ctx context.Context, e event.Event) error {
		return s.RecordAttempt(ctx, e.(domain.EventAttemptRecorded).Attempt)
	})

	return s
}

// GetStandings returns the users of a quiz ordered by best percentage, highest first.
// A quiz nobody has completed yet has no entries.
func (s *Service) GetStandings(ctx context.Context, quizID string) (*domain.Standings, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.standingsKey(quizID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("standing: get %s: %w", quizID, err)
	}

	entries := make([]domain.StandingEntry, 0, len(res))
	for _, z := range res {
		entries = append(entries, domain.StandingEntry{
			UserID:         z.Member.(string),
			BestPercentage: int(z.Score),
		})
	}

	return &domain.Standings{
		QuizID:  quizID,
		Entries: entries,
	}, nil
}

// RecordAttempt raises the user's best percentage if the attempt beat it.
// Forfeited attempts were never graded and are ignored.
func (s *Service) RecordAttempt(ctx context.Context, a domain.QuizAttempt) error {
	if a.Forfeited {
		return nil
	}

	if err := s.redis.ZAddGT(ctx, s.standingsKey(a.QuizID), redis.Z{
		Score:  float64(a.Percentage),
		Member: a.UserID,
	}).Err(); err != nil {
		return fmt.Errorf("standing: record %s: %w", a.QuizID, err)
	}

	return s.schedulePublish(ctx, a)
}

// schedulePublish publishes at most one standings.updated per quiz per interval.
// Updates landing inside an open interval are folded into a single trailing publish
// at its end, so the last change of a burst is always pushed.
func (s *Service) schedulePublish(ctx context.Context, a domain.QuizAttempt) error {
	ok, err := s.redis.SetNX(ctx, s.publishedKey(a.QuizID), a.SubmittedAt.UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("standing: setnx: %w", err)
	}

	if ok {
		return s.publish(ctx, a.QuizID)
	}

	pending, err := s.redis.SetNX(ctx, s.pendingKey(a.QuizID), a.SubmittedAt.UnixMilli(), 2*publishInterval).Result()
	if err != nil {
		return fmt.Errorf("standing: setnx pending: %w", err)
	}

	if !pending {
		return nil
	}

	ctx = context.WithoutCancel(ctx)
	time.AfterFunc(publishInterval, func() {
		if err := s.redis.Del(ctx, s.pendingKey(a.QuizID)).Err(); err != nil {
			slog.ErrorContext(ctx, "standing: clear pending publish", "quiz", a.QuizID, "error", err)
		}
		if err := s.publish(ctx, a.QuizID); err != nil {
			slog.ErrorContext(ctx, "standing: trailing publish", "quiz", a.QuizID, "error", err)
		}
	})

	return nil
}

func (s *Service) publish(ctx context.Context, quizID string) error {
	st, err := s.GetStandings(ctx, quizID)
	if err != nil {
		return err
	}

	s.eb.Publish(ctx, domain.EventStandingsUpdated{
		Standings: *st,
	})

	return nil
}

func (s *Service) standingsKey(quizID string) string {
	return fmt.Sprintf("%s:standings:%s", s.prefix, quizID)
}

func (s *Service) publishedKey(quizID string) string {
	return fmt.Sprintf("%s:standings:%s:published", s.prefix, quizID)
}

func (s *Service) pendingKey(quizID string) string {
	return fmt.Sprintf("%s:standings:%s:pending", s.prefix, quizID)
}
