package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos/memstore"
	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	failed []*types.GenerationTask
}

func (n *recordingNotifier) TaskFailed(_ context.Context, task *types.GenerationTask, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, task)
}

func newTestQueue(t *testing.T, maxRetries int) (GenerationQueue, *memstore.Store, *fakeClock, *recordingNotifier) {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	s := memstore.New()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	n := &recordingNotifier{}
	q := NewGenerationQueue(log, s.Tasks(), n, QueueConfig{
		MaxRetries: maxRetries,
		RetryBase:  time.Second,
		RetryMax:   10 * time.Second,
		Now:        clock.Now,
	})
	return q, s, clock, n
}

func TestEnqueueIsIdempotent(t *testing.T) {
	q, _, _, _ := newTestQueue(t, 3)
	dbc := dbctx.New(context.Background())
	req := EnqueueRequest{LearnerID: uuid.New(), ModuleID: uuid.New(), TopicID: uuid.New(), Kind: types.TaskKindGenerate, Priority: types.PriorityBackground}

	first, created, err := q.Enqueue(dbc, req)
	if err != nil || !created {
		t.Fatalf("Enqueue: created=%v err=%v", created, err)
	}

	req.Priority = types.PriorityImmediate
	second, created, err := q.Enqueue(dbc, req)
	if err != nil || created {
		t.Fatalf("Enqueue duplicate: created=%v err=%v", created, err)
	}
	if second.ID != first.ID || second.Priority != types.PriorityImmediate {
		t.Fatalf("Enqueue duplicate: expected same task raised to immediate, got %+v", second)
	}

	active, _ := q.ListActive(dbc, req.LearnerID, req.ModuleID)
	if len(active) != 1 {
		t.Fatalf("expected exactly one active task, got %d", len(active))
	}
}

func TestEnqueueConcurrentSameKey(t *testing.T) {
	q, _, _, _ := newTestQueue(t, 3)
	dbc := dbctx.New(context.Background())
	req := EnqueueRequest{LearnerID: uuid.New(), ModuleID: uuid.New(), TopicID: uuid.New()}

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := q.Enqueue(dbc, req)
			if err != nil {
				t.Errorf("Enqueue: %v", err)
				return
			}
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if created != 1 {
		t.Fatalf("expected exactly one creation, got %d", created)
	}
}

func TestDequeueOrdersByPriorityThenFIFO(t *testing.T) {
	q, _, _, _ := newTestQueue(t, 3)
	dbc := dbctx.New(context.Background())
	learner := uuid.New()

	bg1, _, _ := q.Enqueue(dbc, EnqueueRequest{LearnerID: learner, TopicID: uuid.New(), Priority: types.PriorityBackground})
	bg2, _, _ := q.Enqueue(dbc, EnqueueRequest{LearnerID: learner, TopicID: uuid.New(), Priority: types.PriorityBackground})
	imm, _, _ := q.Enqueue(dbc, EnqueueRequest{LearnerID: learner, TopicID: uuid.New(), Priority: types.PriorityImmediate})

	for _, want := range []uuid.UUID{imm.ID, bg1.ID, bg2.ID} {
		got, err := q.DequeueNext(dbc)
		if err != nil || got == nil || got.ID != want {
			t.Fatalf("DequeueNext: want %s got %v err=%v", want, got, err)
		}
	}
}

func TestMarkFailedBackoffAndExhaustion(t *testing.T) {
	q, _, clock, notifier := newTestQueue(t, 2)
	dbc := dbctx.New(context.Background())
	task, _, _ := q.Enqueue(dbc, EnqueueRequest{LearnerID: uuid.New(), TopicID: uuid.New()})
	boom := errors.New("synth unavailable")

	claimed, _ := q.DequeueNext(dbc)
	if claimed == nil || claimed.ID != task.ID {
		t.Fatalf("DequeueNext: expected task")
	}
	after, err := q.MarkFailed(dbc, task.ID, boom, true)
	if err != nil || after.Status != types.TaskStatusQueued || after.RetryCount != 1 {
		t.Fatalf("MarkFailed #1: got %+v err=%v", after, err)
	}
	if !after.NextRunAt.Equal(clock.Now().Add(time.Second)) {
		t.Fatalf("MarkFailed #1: expected 1s backoff, next_run_at=%s", after.NextRunAt)
	}
	if got, _ := q.DequeueNext(dbc); got != nil {
		t.Fatalf("DequeueNext during backoff: expected nothing")
	}

	clock.Advance(time.Second)
	q.DequeueNext(dbc)
	after, _ = q.MarkFailed(dbc, task.ID, boom, true)
	if after.RetryCount != 2 || !after.NextRunAt.Equal(clock.Now().Add(2*time.Second)) {
		t.Fatalf("MarkFailed #2: got %+v", after)
	}

	clock.Advance(2 * time.Second)
	q.DequeueNext(dbc)
	after, _ = q.MarkFailed(dbc, task.ID, boom, true)
	if after.Status != types.TaskStatusFailed {
		t.Fatalf("MarkFailed #3: expected terminal failure, got %s", after.Status)
	}
	if len(notifier.failed) != 1 || notifier.failed[0].ID != task.ID {
		t.Fatalf("expected one failure notice, got %d", len(notifier.failed))
	}

	stored, _ := q.Get(dbc, task.ID)
	if stored.Status != types.TaskStatusFailed || stored.Error != boom.Error() {
		t.Fatalf("Get: unexpected stored task %+v", stored)
	}
}

func TestMarkFailedPermanent(t *testing.T) {
	q, _, _, notifier := newTestQueue(t, 3)
	dbc := dbctx.New(context.Background())
	task, _, _ := q.Enqueue(dbc, EnqueueRequest{LearnerID: uuid.New(), TopicID: uuid.New()})
	q.DequeueNext(dbc)

	after, err := q.MarkFailed(dbc, task.ID, errors.New("bad prompt"), false)
	if err != nil || after.Status != types.TaskStatusFailed || after.RetryCount != 0 {
		t.Fatalf("MarkFailed permanent: got %+v err=%v", after, err)
	}
	if len(notifier.failed) != 1 {
		t.Fatalf("expected failure notice")
	}

	// a new task for the same key may be created once the old one is terminal
	_, created, err := q.Enqueue(dbc, EnqueueRequest{LearnerID: task.LearnerID, TopicID: task.TopicID})
	if err != nil || !created {
		t.Fatalf("Enqueue after failure: created=%v err=%v", created, err)
	}
}

func TestDemoteStale(t *testing.T) {
	q, _, clock, _ := newTestQueue(t, 3)
	dbc := dbctx.New(context.Background())
	idle := uuid.New()
	busy := uuid.New()
	q.Enqueue(dbc, EnqueueRequest{LearnerID: idle, TopicID: uuid.New(), Priority: types.PriorityBackground})
	q.Enqueue(dbc, EnqueueRequest{LearnerID: busy, TopicID: uuid.New(), Priority: types.PriorityBackground})

	clock.Advance(31 * time.Minute)
	if err := q.TouchLearner(dbc, busy); err != nil {
		t.Fatalf("TouchLearner: %v", err)
	}
	n, err := q.DemoteStale(dbc)
	if err != nil || n != 1 {
		t.Fatalf("DemoteStale: n=%d err=%v", n, err)
	}
	next, _ := q.DequeueNext(dbc)
	if next == nil || next.LearnerID != busy {
		t.Fatalf("expected the active learner's task first, got %+v", next)
	}
}

func TestReturningLearnerRegainsPriority(t *testing.T) {
	q, _, clock, _ := newTestQueue(t, 3)
	dbc := dbctx.New(context.Background())
	returning := uuid.New()
	other := uuid.New()
	mine, _, _ := q.Enqueue(dbc, EnqueueRequest{LearnerID: returning, TopicID: uuid.New(), Priority: types.PriorityBackground})

	clock.Advance(31 * time.Minute)
	if n, err := q.DemoteStale(dbc); err != nil || n != 1 {
		t.Fatalf("DemoteStale: n=%d err=%v", n, err)
	}
	if got, _ := q.Get(dbc, mine.ID); got.Priority != types.PriorityLow {
		t.Fatalf("expected demotion to %d, got %d", types.PriorityLow, got.Priority)
	}

	clock.Advance(time.Minute)
	q.Enqueue(dbc, EnqueueRequest{LearnerID: other, TopicID: uuid.New(), Priority: types.PriorityBackground})
	if err := q.TouchLearner(dbc, returning); err != nil {
		t.Fatalf("TouchLearner: %v", err)
	}
	if got, _ := q.Get(dbc, mine.ID); got.Priority != types.PriorityBackground {
		t.Fatalf("expected priority restored to %d, got %d", types.PriorityBackground, got.Priority)
	}
	next, _ := q.DequeueNext(dbc)
	if next == nil || next.ID != mine.ID {
		t.Fatalf("older task in the same band should run first, got %+v", next)
	}
}

func TestBackoffCaps(t *testing.T) {
	cfg := QueueConfig{RetryBase: time.Second, RetryMax: 5 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := cfg.Backoff(i + 1); got != w {
			t.Fatalf("Backoff(%d): got %s want %s", i+1, got, w)
		}
	}
}
