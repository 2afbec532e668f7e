package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/neurobridge-lifecycle/internal/platform/envutil"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

type redisBus struct {
	log            *logger.Logger
	rdb            *goredis.Client
	eventsChannel  string
	noticesChannel string
}

func NewRedisBus(log *logger.Logger) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := envutil.String("REDIS_ADDR", "")
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    envutil.String("REDIS_PASSWORD", ""),
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisBus{
		log:            log.With("service", "RedisLifecycleBus"),
		rdb:            rdb,
		eventsChannel:  envutil.String("REDIS_EVENTS_CHANNEL", "learner_events"),
		noticesChannel: envutil.String("REDIS_NOTICES_CHANNEL", "lifecycle_notices"),
	}, nil
}

func (b *redisBus) PublishNotice(ctx context.Context, n Notice) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis bus not initialized")
	}
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.noticesChannel, raw).Err()
}

func (b *redisBus) PublishCompletion(ctx context.Context, ev CompletionEvent) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis bus not initialized")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.eventsChannel, raw).Err()
}

func (b *redisBus) StartConsumer(ctx context.Context, onEvent func(ctx context.Context, ev CompletionEvent)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis bus not initialized")
	}
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.eventsChannel)

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				ev, err := DecodeCompletion([]byte(m.Payload))
				if err != nil {
					b.log.Warn("bad learner event payload", "error", err)
					continue
				}
				onEvent(ctx, ev)
			}
		}
	}()

	return nil
}

func (b *redisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}

// DecodeCompletion parses and validates a completion event payload.
func DecodeCompletion(raw []byte) (CompletionEvent, error) {
	var ev CompletionEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return CompletionEvent{}, err
	}
	if ev.VirtualContentUnitID == uuid.Nil {
		return CompletionEvent{}, fmt.Errorf("missing virtual_content_unit_id")
	}
	return ev, nil
}
