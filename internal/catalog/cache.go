package catalog

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/coursequiz/internal/domain"
)

const defaultCacheTTL = 5 * time.Minute

type CacheConfig struct {
	Redis  redis.UniversalClient
	Prefix string
	TTL    time.Duration
}

// Cache is a Redis read-through cache of quiz definitions. A nil Cache is a no-op.
type Cache struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewCache(c CacheConfig) *Cache {
	ttl := c.TTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	return &Cache{
		redis:  c.Redis,
		prefix: c.Prefix,
		ttl:    ttl,
	}
}

// Get returns the cached quiz. Any cache failure is reported as a miss.
func (c *Cache) Get(ctx context.Context, quizID string) (*domain.Quiz, bool) {
	if c == nil {
		return nil, false
	}

	b, err := c.redis.Get(ctx, c.quizKey(quizID)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		slog.WarnContext(ctx, "catalog: read quiz cache failed", "quiz", quizID, "error", err)
		return nil, false
	}

	var q domain.Quiz
	if err := json.Unmarshal(b, &q); err != nil {
		slog.WarnContext(ctx, "catalog: decode cached quiz failed", "quiz", quizID, "error", err)
		return nil, false
	}

	return &q, true
}

func (c *Cache) Set(ctx context.Context, q *domain.Quiz) error {
	if c == nil {
		return nil
	}

	b, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal quiz %s: %w", q.QuizID, err)
	}

	return c.redis.Set(ctx, c.quizKey(q.QuizID), b, c.ttl).Err()
}

func (c *Cache) quizKey(quizID string) string {
	return fmt.Sprintf("%s:quiz:%s", c.prefix, quizID)
}
