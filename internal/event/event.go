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
	defaultTimeout  = 10 * time.Second
)

type Event interface {
	Name() string
}

type Handler func(ctx context.Context, e Event) error

type Config struct {
	// PoolSize bounds the number of handlers running at the same time.
	PoolSize int
	// Timeout bounds a single handler run.
	Timeout time.Duration
}

// Bus is an in-memory event bus.
type Bus struct {
	pool     chan struct{}
	timeout  time.Duration
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewBus create a new event bus. Caller should call Stop for graceful shutdown the bus.
func NewBus(c Config) *Bus {
	if c.PoolSize <= 0 {
		c.PoolSize = defaultPoolSize
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}

	return &Bus{
		pool:     make(chan struct{}, c.PoolSize),
		timeout:  c.Timeout,
		wg:       new(sync.WaitGroup),
		handlers: make(map[string][]Handler),
	}
}

// Subscribe to an event
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[name] = append(b.handlers[name], h)
}

// Publish an event to every handler subscribed to its name. Handlers run asynchronously.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, h := range b.handlers[e.Name()] {
		b.dispatch(ctx, h, e)
	}
}

func (b *Bus) dispatch(ctx context.Context, h Handler, e Event) {
	b.wg.Add(1)

	b.pool <- struct{}{}

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(ctx, "event: handler panic",
					"event", e.Name(),
					"error", fmt.Errorf("%v, stack: %s", r, debug.Stack()),
				)
			}

			cancel()
			<-b.pool
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
