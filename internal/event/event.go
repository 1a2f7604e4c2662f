package event

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	defaultPoolSize = 1000
	defaultTimeout  = 30 * time.Second
)

type Event interface {
	Name() string
}

type Handler func(ctx context.Context, e Event) error

type Option func(b *Bus)

// WithPoolSize bounds how many handlers of one event name run at the same time.
func WithPoolSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.poolSize = n
		}
	}
}

// Bus is an in-memory event bus. Each event name has its own worker pool,
// so a slow handler only backs up events of the same name.
type Bus struct {
	poolSize int
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	handlers map[string][]Handler
	pools    map[string]chan struct{}
}

// NewBus create a new event bus. Caller should call Stop for graceful shutdown the bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		poolSize: defaultPoolSize,
		wg:       new(sync.WaitGroup),
		handlers: make(map[string][]Handler),
		pools:    make(map[string]chan struct{}),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Subscribe to an event
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[name] = append(b.handlers[name], h)
	if _, ok := b.pools[name]; !ok {
		b.pools[name] = make(chan struct{}, b.poolSize)
	}
}

// Publish an event. Handlers run asynchronously, detached from the caller's cancellation.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	pool := b.pools[e.Name()]
	for _, h := range b.handlers[e.Name()] {
		b.dispatch(ctx, pool, h, e)
	}
}

func (b *Bus) dispatch(ctx context.Context, pool chan struct{}, h Handler, e Event) {
	b.wg.Add(1)

	pool <- struct{}{}

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultTimeout)
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(ctx, "event: handler panic",
					"event", e.Name(),
					"error", fmt.Errorf("%v, stack: %s", r, debug.Stack()),
				)
			}

			cancel()
			<-pool
			b.wg.Done()
		}()

		if err := h(ctx, e); err != nil {
			slog.ErrorContext(ctx, "event: handle event failed",
				"event", e.Name(),
				"error", err,
			)
		}
	}()
}

// Stop waits for all handlers to finish
func (b *Bus) Stop() {
	b.wg.Wait()
}
