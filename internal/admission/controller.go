package admission

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/coursequiz/internal/errors"
)

// admitScript is a bounded compare-and-increment on a single counter key.
// The counter is first raised to the floor, so an evicted counter never re-opens
// slots that already have recorded attempts.
//
// KEYS[1] counter key, ARGV[1] max attempts, ARGV[2] floor.
// Returns {admitted, counter}.
var admitScript = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
local max = tonumber(ARGV[1])
local floor = tonumber(ARGV[2])
if n < floor then
	n = floor
	redis.call('SET', KEYS[1], n)
end
if n >= max then
	return {0, n}
end
n = n + 1
redis.call('SET', KEYS[1], n)
return {1, n}
`)

type Config struct {
	Redis  redis.UniversalClient
	Prefix string
}

// Controller reserves attempt slots against a quiz's attempt ceiling.
// The counter lives in Redis, one key per (user, quiz), so any number of
// processes can admit concurrently.
type Controller struct {
	redis  redis.UniversalClient
	prefix string
}

func NewController(c Config) *Controller {
	return &Controller{
		redis:  c.Redis,
		prefix: c.Prefix,
	}
}

type Key struct {
	UserID string
	QuizID string
}

func (k Key) String() string {
	return fmt.Sprintf("user=%s quiz=%s", k.UserID, k.QuizID)
}

// Decision is the outcome of Admit, either Admitted or Rejected.
type Decision interface {
	decision()
}

// Admitted carries the single-use reservation for the claimed slot.
type Admitted struct {
	Reservation *Reservation
}

// Rejected means the ceiling was already reached. It is a normal outcome, not a fault.
type Rejected struct {
	Key         Key
	Used        int
	MaxAttempts int
}

func (Admitted) decision() {}
func (Rejected) decision() {}

// Err converts the rejection into the user-facing error.
func (r Rejected) Err() error {
	return errors.AttemptLimitExceeded("no attempts remaining: used %d of %d", r.Used, r.MaxAttempts)
}

type AdmitRequest struct {
	Key         Key
	MaxAttempts int
	// Floor is the number of attempts already recorded for the key.
	Floor int
}

// Admit atomically claims the next attempt slot for the key, or rejects if none is left.
// Calls for the same key are linearized by Redis; calls for different keys never contend.
func (c *Controller) Admit(ctx context.Context, req AdmitRequest) (Decision, error) {
	if req.MaxAttempts < 1 {
		return nil, fmt.Errorf("admission: invalid max attempts %d: %s", req.MaxAttempts, req.Key)
	}

	res, err := admitScript.Run(ctx, c.redis, []string{c.counterKey(req.Key)}, req.MaxAttempts, req.Floor).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("admission: admit %s: %w", req.Key, err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("admission: unexpected script result %v: %s", res, req.Key)
	}

	admitted, n := res[0] == 1, int(res[1])
	if !admitted {
		return Rejected{Key: req.Key, Used: n, MaxAttempts: req.MaxAttempts}, nil
	}

	return Admitted{Reservation: &Reservation{key: req.Key, attemptNumber: n}}, nil
}

// Reserved returns how many slots have been claimed for the key so far.
// The value may be stale by the time the caller uses it, only Admit decides.
func (c *Controller) Reserved(ctx context.Context, k Key) (int, error) {
	s, err := c.redis.Get(ctx, c.counterKey(k)).Result()
	if stderrors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("admission: get counter %s: %w", k, err)
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("admission: parse counter %q %s: %w", s, k, err)
	}
	return n, nil
}

func (c *Controller) counterKey(k Key) string {
	return fmt.Sprintf("%s:admission:%s:%s", c.prefix, k.UserID, k.QuizID)
}

// Reservation proves a slot was claimed. Exactly one attempt may be recorded against it.
// A reservation is consumed once used, whether or not the attempt was recorded.
type Reservation struct {
	key           Key
	attemptNumber int
	consumed      atomic.Bool
}

func (r *Reservation) Key() Key { return r.key }

func (r *Reservation) AttemptNumber() int { return r.attemptNumber }

// Consume marks the reservation used. It fails if it was already used.
func (r *Reservation) Consume() error {
	if !r.consumed.CompareAndSwap(false, true) {
		return errors.InternalConsistency("reservation already consumed: %s attempt=%d", r.key, r.attemptNumber)
	}
	return nil
}

func (r *Reservation) Consumed() bool {
	return r.consumed.Load()
}
