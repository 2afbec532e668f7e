package lookahead

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos/memstore"
	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/virtualize"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
	"github.com/yungbote/neurobridge-lifecycle/internal/services"
)

type recordingNotifier struct {
	mu      sync.Mutex
	waiting int
}

func (n *recordingNotifier) WaitingForAuthor(context.Context, uuid.UUID, uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.waiting++
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	dbc     dbctx.Context
	store   *memstore.Store
	fix     memstore.Fixture
	queue   services.GenerationQueue
	engine  *virtualize.Engine
	sched   *Scheduler
	notify  *recordingNotifier
	learner uuid.UUID
	now     time.Time
}

func newHarness(t *testing.T, topicsPerModule ...int) *harness {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	s := memstore.New()
	h := &harness{
		t:       t,
		ctx:     context.Background(),
		store:   s,
		fix:     s.SeedCurriculum(topicsPerModule...),
		notify:  &recordingNotifier{},
		learner: uuid.New(),
		now:     time.Now().UTC(),
	}
	h.dbc = dbctx.New(h.ctx)
	h.queue = services.NewGenerationQueue(log, s.Tasks(), nil, services.QueueConfig{
		Now: func() time.Time { return h.now },
	})
	h.engine = virtualize.New(virtualize.EngineDeps{Log: log, Repos: s.Set()})
	h.sched = New(Deps{
		Log:     log,
		Repos:   s.Set(),
		Modules: h.engine,
		Queue:   h.queue,
		Notify:  h.notify,
		Config:  DefaultConfig(),
	})
	return h
}

func (h *harness) module(m int) uuid.UUID { return h.fix.Modules[m-1].ID }

func (h *harness) reconcile(m int) *Status {
	h.t.Helper()
	st, err := h.sched.Reconcile(h.ctx, h.learner, h.module(m))
	if err != nil {
		h.t.Fatalf("Reconcile: %v", err)
	}
	return st
}

// drain runs every runnable task to completion, the way a single worker would.
func (h *harness) drain() int {
	h.t.Helper()
	n := 0
	for {
		task, err := h.queue.DequeueNext(h.dbc)
		if err != nil {
			h.t.Fatalf("DequeueNext: %v", err)
		}
		if task == nil {
			return n
		}
		if _, _, err := h.engine.Materialize(h.ctx, task.LearnerID, task.TopicID); err != nil {
			h.t.Fatalf("Materialize: %v", err)
		}
		if err := h.queue.MarkDone(h.dbc, task.ID, string(virtualize.OutcomeCreated)); err != nil {
			h.t.Fatalf("MarkDone: %v", err)
		}
		n++
	}
}

func (h *harness) vt(m, n int) *types.VirtualTopic {
	h.t.Helper()
	vt, err := h.store.VirtualTopics().GetByLearnerTopic(h.dbc, h.learner, h.fix.Topic(m, n).ID)
	if err != nil {
		h.t.Fatalf("GetByLearnerTopic: %v", err)
	}
	return vt
}

func (h *harness) setProgress(m, n int, pct float64) {
	h.t.Helper()
	vt := h.vt(m, n)
	if vt == nil {
		h.t.Fatalf("topic %d.%d not materialized", m, n)
	}
	if err := h.store.VirtualTopics().UpdateProgress(h.dbc, vt.ID, pct, nil); err != nil {
		h.t.Fatalf("UpdateProgress: %v", err)
	}
}

func topicsOf(st *Status) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(st.Enqueued))
	for _, e := range st.Enqueued {
		out = append(out, e.TopicID)
	}
	return out
}

func TestEnterModulePrimesBuffer(t *testing.T) {
	h := newHarness(t, 5)

	st := h.reconcile(1)
	if st.State != StatePriming || len(st.Enqueued) != 3 {
		t.Fatalf("expected priming with 3 tasks, got %s %v", st.State, topicsOf(st))
	}
	want := []struct {
		topic    int
		priority int
	}{{1, types.PriorityImmediate}, {2, types.PriorityBackground}, {3, types.PriorityBackground}}
	for i, w := range want {
		e := st.Enqueued[i]
		if e.TopicID != h.fix.Topic(1, w.topic).ID || e.Priority != w.priority || !e.Created {
			t.Fatalf("enqueued[%d]: got %+v want topic %d priority %d", i, e, w.topic, w.priority)
		}
	}

	if n := h.drain(); n != 3 {
		t.Fatalf("expected 3 tasks to run, got %d", n)
	}
	if vt := h.vt(1, 1); vt == nil || vt.Lock != types.LockUnlocked {
		t.Fatalf("topic 1 should be materialized and unlocked: %+v", vt)
	}
	for _, n := range []int{2, 3} {
		if vt := h.vt(1, n); vt == nil || vt.Lock != types.LockLocked {
			t.Fatalf("topic %d should be materialized and locked: %+v", n, vt)
		}
	}
	for _, n := range []int{4, 5} {
		if h.vt(1, n) != nil {
			t.Fatalf("topic %d must not be materialized yet", n)
		}
	}

	again := h.reconcile(1)
	if again.State != StateSteady || len(again.Enqueued) != 0 || again.Ahead != 2 {
		t.Fatalf("expected steady with nothing to do, got %+v", again)
	}
}

func TestAdvancePastEightyEnqueuesNextUncoveredTopic(t *testing.T) {
	h := newHarness(t, 5)
	h.reconcile(1)
	h.drain()

	h.setProgress(1, 1, 80)
	st := h.reconcile(1)
	if len(st.Enqueued) != 1 || st.Enqueued[0].TopicID != h.fix.Topic(1, 4).ID || !st.Enqueued[0].Created {
		t.Fatalf("expected exactly topic 4 enqueued, got %v", topicsOf(st))
	}
	if st.Enqueued[0].Priority != types.PriorityBackground {
		t.Fatalf("expected background priority, got %d", st.Enqueued[0].Priority)
	}
	if vt := h.vt(1, 2); vt.Lock != types.LockLocked {
		t.Fatalf("topic 2 must stay locked until topic 1 completes")
	}

	// a second evaluation before the task runs changes nothing
	if again := h.reconcile(1); len(again.Enqueued) != 0 {
		t.Fatalf("expected no new work, got %v", topicsOf(again))
	}
}

func TestDrainingPrimesNextModule(t *testing.T) {
	h := newHarness(t, 5, 3)
	h.store.MakeUnready(h.fix.Topic(1, 4).ID)
	h.store.MakeUnready(h.fix.Topic(1, 5).ID)
	h.reconcile(1)
	h.drain()

	h.setProgress(1, 1, 80)
	st := h.reconcile(1)
	if st.State != StateDraining {
		t.Fatalf("expected draining, got %s", st.State)
	}
	if len(st.Enqueued) != 1 || st.Enqueued[0].TopicID != h.fix.Topic(2, 1).ID {
		t.Fatalf("expected the next module's first topic, got %v", topicsOf(st))
	}
	if len(st.PrimedModules) != 1 || st.PrimedModules[0] != h.module(2) {
		t.Fatalf("expected module 2 primed, got %v", st.PrimedModules)
	}
	if st.WaitingForAuthor {
		t.Fatalf("buffer is filled through the next module")
	}
	vm, _ := h.store.VirtualModules().GetByLearnerModule(h.dbc, h.learner, h.module(2))
	if vm == nil || vm.Status != types.ModuleStatusPending {
		t.Fatalf("expected pending virtual module for module 2, got %+v", vm)
	}

	h.drain()
	if vm, _ := h.store.VirtualModules().GetByLearnerModule(h.dbc, h.learner, h.module(2)); vm.Status != types.ModuleStatusPending {
		t.Fatalf("background materialization must not activate the next module")
	}
	if vt := h.vt(2, 1); vt == nil || vt.Lock != types.LockLocked {
		t.Fatalf("next module's first topic must stay locked while module 1 is active: %+v", vt)
	}
	if again := h.reconcile(1); len(again.Enqueued) != 0 {
		t.Fatalf("expected no new work, got %v", topicsOf(again))
	}

	h.reconcile(2)
	if vt := h.vt(2, 1); vt.Lock != types.LockUnlocked {
		t.Fatalf("entering module 2 should unlock its first topic, got %s", vt.Lock)
	}
}

func TestReadyRunStopsAtUnreadyTopic(t *testing.T) {
	h := newHarness(t, 5)
	h.store.MakeUnready(h.fix.Topic(1, 2).ID)

	st := h.reconcile(1)
	if len(st.Enqueued) != 1 || st.Enqueued[0].TopicID != h.fix.Topic(1, 1).ID {
		t.Fatalf("only topic 1 may be enqueued ahead of an unready topic, got %v", topicsOf(st))
	}
	if !st.WaitingForAuthor {
		t.Fatalf("expected waiting-for-author while topic 2 is unready")
	}

	h.store.MakeReady(h.fix.Topic(1, 2).ID)
	st = h.reconcile(1)
	if len(st.Enqueued) != 2 || st.Enqueued[0].TopicID != h.fix.Topic(1, 2).ID || st.Enqueued[1].TopicID != h.fix.Topic(1, 3).ID {
		t.Fatalf("expected topics 2 and 3 once topic 2 is ready, got %v", topicsOf(st))
	}
}

func TestExhaustedModuleWaitsForAuthor(t *testing.T) {
	h := newHarness(t, 2)
	h.reconcile(1)
	h.drain()
	h.setProgress(1, 1, 100)
	h.setProgress(1, 2, 100)

	st := h.reconcile(1)
	if st.State != StateExhausted || !st.WaitingForAuthor || len(st.Enqueued) != 0 {
		t.Fatalf("expected exhausted and waiting, got %+v", st)
	}
	if h.notify.waiting == 0 {
		t.Fatalf("expected a waiting-for-author notice")
	}
}

func TestStatusDoesNotWrite(t *testing.T) {
	h := newHarness(t, 4)

	st, err := h.sched.Status(h.ctx, h.learner, h.module(1))
	if err != nil || st.State != StateNotStarted {
		t.Fatalf("Status before entering: %+v err=%v", st, err)
	}
	if vm, _ := h.store.VirtualModules().GetByLearnerModule(h.dbc, h.learner, h.module(1)); vm != nil {
		t.Fatalf("Status must not create a virtual module")
	}

	h.reconcile(1)
	h.drain()
	h.setProgress(1, 1, 90)
	st, err = h.sched.Status(h.ctx, h.learner, h.module(1))
	if err != nil || len(st.Enqueued) != 1 || st.Enqueued[0].TopicID != h.fix.Topic(1, 4).ID {
		t.Fatalf("Status should report topic 4 as pending work: %+v err=%v", st, err)
	}
	active, _ := h.queue.ListActive(h.dbc, h.learner, h.module(1))
	if len(active) != 0 {
		t.Fatalf("Status must not enqueue, found %d active tasks", len(active))
	}
}

// Walks a learner through a module and checks the buffer depth after every
// completed topic.
func TestLookaheadDepthHolds(t *testing.T) {
	const topics = 7
	h := newHarness(t, topics)
	h.reconcile(1)
	h.drain()

	for k := 1; k < topics; k++ {
		h.setProgress(1, k, 100)
		h.reconcile(1)
		h.drain()

		ahead := 0
		for n := k + 2; n <= topics; n++ {
			if h.vt(1, n) != nil {
				ahead++
			}
		}
		remaining := topics - (k + 1)
		want := 2
		if remaining < want {
			want = remaining
		}
		if ahead != want {
			t.Fatalf("after topic %d: %d topics ahead, want %d", k, ahead, want)
		}
	}
}

func TestPrimeNextModule(t *testing.T) {
	h := newHarness(t, 2, 3)

	st, err := h.sched.PrimeNextModule(h.ctx, h.learner, h.module(1))
	if err != nil {
		t.Fatalf("PrimeNextModule: %v", err)
	}
	if len(st.Enqueued) != 1 || st.Enqueued[0].TopicID != h.fix.Topic(2, 1).ID || !st.Enqueued[0].Created {
		t.Fatalf("expected module 2 topic 1, got %v", topicsOf(st))
	}
	st, _ = h.sched.PrimeNextModule(h.ctx, h.learner, h.module(1))
	if len(st.Enqueued) != 0 {
		t.Fatalf("second prime should find the topic covered, got %v", topicsOf(st))
	}

	// entering the primed module activates it
	h.reconcile(2)
	vm, _ := h.store.VirtualModules().GetByLearnerModule(h.dbc, h.learner, h.module(2))
	if vm == nil || vm.Status != types.ModuleStatusActive {
		t.Fatalf("expected module 2 active after entering, got %+v", vm)
	}
}

func TestPrimeSkipsUnreadyModule(t *testing.T) {
	h := newHarness(t, 2, 2)
	h.store.MakeUnready(h.fix.Topic(2, 2).ID)

	st, err := h.sched.PrimeNextModule(h.ctx, h.learner, h.module(1))
	if err != nil {
		t.Fatalf("PrimeNextModule: %v", err)
	}
	if len(st.Enqueued) != 0 || len(st.PrimedModules) != 0 || !st.WaitingForAuthor {
		t.Fatalf("unready module must not be primed: %+v", st)
	}
}

func TestReturningLearnerTaskRunsFirst(t *testing.T) {
	h := newHarness(t, 5)
	h.reconcile(1)

	h.now = h.now.Add(31 * time.Minute)
	if n, err := h.queue.DemoteStale(h.dbc); err != nil || n != 3 {
		t.Fatalf("DemoteStale: n=%d err=%v", n, err)
	}
	other := uuid.New()
	if _, err := h.sched.Reconcile(h.ctx, other, h.module(1)); err != nil {
		t.Fatalf("Reconcile other learner: %v", err)
	}

	if err := h.queue.TouchLearner(h.dbc, h.learner); err != nil {
		t.Fatalf("TouchLearner: %v", err)
	}
	st := h.reconcile(1)
	if len(st.Enqueued) != 0 {
		t.Fatalf("covered topics must not be enqueued again, got %v", topicsOf(st))
	}
	if len(st.Raised) != 1 || st.Raised[0].TopicID != h.fix.Topic(1, 1).ID || st.Raised[0].Priority != types.PriorityImmediate {
		t.Fatalf("expected topic 1 raised to immediate, got %+v", st.Raised)
	}

	want := []struct {
		learner uuid.UUID
		topic   int
	}{{h.learner, 1}, {other, 1}, {h.learner, 2}, {h.learner, 3}, {other, 2}, {other, 3}}
	for i, w := range want {
		task, err := h.queue.DequeueNext(h.dbc)
		if err != nil || task == nil {
			t.Fatalf("DequeueNext %d: task=%v err=%v", i, task, err)
		}
		if task.LearnerID != w.learner || task.TopicID != h.fix.Topic(1, w.topic).ID {
			t.Fatalf("claim %d: got learner=%s topic=%s priority=%d", i, task.LearnerID, task.TopicID, task.Priority)
		}
	}
}

func TestImmediateEnqueueIsNotExhausted(t *testing.T) {
	h := newHarness(t, 2)
	h.store.MakeUnready(h.fix.Topic(1, 2).ID)
	h.reconcile(1)
	h.drain()
	h.setProgress(1, 1, 100)

	h.store.MakeReady(h.fix.Topic(1, 2).ID)
	st := h.reconcile(1)
	if len(st.Enqueued) != 1 || st.Enqueued[0].Priority != types.PriorityImmediate {
		t.Fatalf("expected topic 2 at immediate priority, got %+v", st.Enqueued)
	}
	if st.State == StateExhausted {
		t.Fatalf("state must not be exhausted while the current topic is being generated")
	}
}
