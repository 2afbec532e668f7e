package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

var errBusClosed = errors.New("memory bus closed")

// memoryBus is the single-process bus used when REDIS_ADDR is unset.
type memoryBus struct {
	log    *logger.Logger
	events chan CompletionEvent
	// done is closed by Close. events itself is never closed, so a
	// publisher can send without holding mu.
	done chan struct{}

	mu      sync.Mutex
	notices []Notice
	closed  bool
}

type MemoryBus interface {
	Bus
	// Notices returns every notice published so far.
	Notices() []Notice
}

func NewMemoryBus(log *logger.Logger) MemoryBus {
	return &memoryBus{
		log:    log.With("service", "MemoryLifecycleBus"),
		events: make(chan CompletionEvent, 256),
		done:   make(chan struct{}),
	}
}

func (b *memoryBus) PublishNotice(_ context.Context, n Notice) error {
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notices = append(b.notices, n)
	return nil
}

func (b *memoryBus) Notices() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Notice, len(b.notices))
	copy(out, b.notices)
	return out
}

// PublishCompletion blocks while the buffer is full, until the consumer
// catches up, ctx ends or the bus closes.
func (b *memoryBus) PublishCompletion(ctx context.Context, ev CompletionEvent) error {
	select {
	case <-b.done:
		return errBusClosed
	default:
	}
	select {
	case b.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return errBusClosed
	}
}

func (b *memoryBus) StartConsumer(ctx context.Context, onEvent func(ctx context.Context, ev CompletionEvent)) error {
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case ev := <-b.events:
				onEvent(ctx, ev)
			}
		}
	}()
	return nil
}

func (b *memoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}
