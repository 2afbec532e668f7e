package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos/memstore"
	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/cascade"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/graph"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/lookahead"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/progress"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/virtualize"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/errs"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
	"github.com/yungbote/neurobridge-lifecycle/internal/services"
)

type testEnv struct {
	ctx    context.Context
	dbc    dbctx.Context
	store  *memstore.Store
	fix    memstore.Fixture
	queue  services.GenerationQueue
	engine *virtualize.Engine
	uc     Usecases
}

func newTestEnv(t *testing.T, topicsPerModule ...int) *testEnv {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	s := memstore.New()
	e := &testEnv{ctx: context.Background(), store: s, fix: s.SeedCurriculum(topicsPerModule...)}
	e.dbc = dbctx.New(e.ctx)
	set := s.Set()
	e.queue = services.NewGenerationQueue(log, s.Tasks(), nil, services.QueueConfig{})
	e.engine = virtualize.New(virtualize.EngineDeps{Log: log, Repos: set})
	sched := lookahead.New(lookahead.Deps{Log: log, Repos: set, Modules: e.engine, Queue: e.queue, Config: lookahead.DefaultConfig()})
	e.uc = New(UsecasesDeps{
		Log:       log,
		Repos:     set,
		Scheduler: sched,
		Tracker:   progress.New(progress.Deps{Log: log, Repos: set, Scheduler: sched, Activity: e.queue}),
		Queue:     e.queue,
		Planner: cascade.NewPlanner(cascade.PlannerDeps{
			Log:            log,
			Registry:       graph.MustLoad(),
			Store:          s.Generic(),
			VirtualModules: s.VirtualModules(),
			Tasks:          s.Tasks(),
		}),
		Executor:  cascade.NewExecutor(log, s.Generic()),
		AwaitPoll: time.Millisecond,
	})
	return e
}

// drain runs every queued task inline, the way a worker would.
func (e *testEnv) drain(t *testing.T) int {
	t.Helper()
	n, err := e.runQueued()
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	return n
}

func (e *testEnv) runQueued() (int, error) {
	n := 0
	for {
		task, err := e.queue.DequeueNext(e.dbc)
		if err != nil {
			return n, err
		}
		if task == nil {
			return n, nil
		}
		if task.Kind == types.TaskKindUpdate {
			_, _, err = e.engine.Refresh(e.ctx, task.LearnerID, task.TopicID)
		} else {
			_, _, err = e.engine.Materialize(e.ctx, task.LearnerID, task.TopicID)
		}
		if err != nil {
			return n, err
		}
		if err := e.queue.MarkDone(e.dbc, task.ID, "ok"); err != nil {
			return n, err
		}
		n++
	}
}

func TestEnterFirstModuleIsAwaitable(t *testing.T) {
	e := newTestEnv(t, 4, 4)
	learner := uuid.New()

	res, err := e.uc.OnLearnerEntersModule(e.ctx, learner, e.fix.Modules[0].ID)
	if err != nil {
		t.Fatalf("OnLearnerEntersModule: %v", err)
	}
	if !res.Awaitable || res.FirstTaskID == nil {
		t.Fatalf("first module must hand back an awaitable task: %+v", res)
	}
	first, _ := e.uc.GetTask(e.ctx, *res.FirstTaskID)
	if first.TopicID != e.fix.Topic(1, 1).ID || first.Priority != types.PriorityImmediate {
		t.Fatalf("first task should be topic 1 at immediate priority, got %+v", first)
	}

	done := make(chan error, 1)
	go func() {
		_, err := e.runQueued()
		done <- err
	}()
	ctx, cancel := context.WithTimeout(e.ctx, 5*time.Second)
	defer cancel()
	task, err := e.uc.AwaitTask(ctx, *res.FirstTaskID)
	if err != nil || task.Status != types.TaskStatusDone {
		t.Fatalf("AwaitTask: %+v err=%v", task, err)
	}
	if err := <-done; err != nil {
		t.Fatalf("drain: %v", err)
	}

	second, err := e.uc.OnLearnerEntersModule(e.ctx, learner, e.fix.Modules[1].ID)
	if err != nil {
		t.Fatalf("OnLearnerEntersModule second: %v", err)
	}
	if second.Awaitable {
		t.Fatalf("only the first module of a plan may be awaited")
	}
}

func TestEnterValidatesInput(t *testing.T) {
	e := newTestEnv(t, 2)
	if _, err := e.uc.OnLearnerEntersModule(e.ctx, uuid.Nil, e.fix.Modules[0].ID); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("nil learner: got %v", err)
	}
	if _, err := e.uc.OnLearnerEntersModule(e.ctx, uuid.New(), uuid.New()); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("unknown module: got %v", err)
	}
}

func TestAwaitTaskHonorsContext(t *testing.T) {
	e := newTestEnv(t, 2)
	res, err := e.uc.OnLearnerEntersModule(e.ctx, uuid.New(), e.fix.Modules[0].ID)
	if err != nil || res.FirstTaskID == nil {
		t.Fatalf("OnLearnerEntersModule: %+v err=%v", res, err)
	}
	ctx, cancel := context.WithTimeout(e.ctx, 20*time.Millisecond)
	defer cancel()
	task, err := e.uc.AwaitTask(ctx, *res.FirstTaskID)
	if !errors.Is(err, context.DeadlineExceeded) || task == nil || task.Status != types.TaskStatusQueued {
		t.Fatalf("expected deadline with the task still queued, got %+v err=%v", task, err)
	}
}

func TestCompletionFlowThroughFacade(t *testing.T) {
	e := newTestEnv(t, 4)
	learner := uuid.New()
	if _, err := e.uc.OnLearnerEntersModule(e.ctx, learner, e.fix.Modules[0].ID); err != nil {
		t.Fatalf("enter: %v", err)
	}
	e.drain(t)

	vt, _ := e.store.VirtualTopics().GetByLearnerTopic(e.dbc, learner, e.fix.Topic(1, 1).ID)
	units, _ := e.store.VirtualUnits().ListByVirtualTopic(e.dbc, vt.ID)
	var last *Progress
	for _, u := range units {
		p, err := e.uc.OnContentCompleted(e.ctx, u.ID, 1)
		if err != nil {
			t.Fatalf("OnContentCompleted: %v", err)
		}
		last = p
	}
	if last.TopicProgress != 100 || last.Unlocked == nil {
		t.Fatalf("topic should be complete and unlock the next one: %+v", last)
	}
	e.drain(t)

	st, err := e.uc.GetLookaheadStatus(e.ctx, learner, e.fix.Modules[0].ID)
	if err != nil {
		t.Fatalf("GetLookaheadStatus: %v", err)
	}
	if st.Ahead < lookahead.DefaultConfig().TopicBuffer || len(st.Enqueued) != 0 {
		t.Fatalf("buffer should be full after draining: %+v", st)
	}
}

func TestTopicUpdateFansOut(t *testing.T) {
	e := newTestEnv(t, 2)
	topic := e.fix.Topic(1, 1).ID
	for i := 0; i < 2; i++ {
		if _, _, err := e.engine.Materialize(e.ctx, uuid.New(), topic); err != nil {
			t.Fatalf("Materialize: %v", err)
		}
	}

	res, err := e.uc.OnTopicUpdated(e.ctx, topic)
	if err != nil || len(res.Enqueued) != 2 {
		t.Fatalf("OnTopicUpdated: %+v err=%v", res, err)
	}
	again, _ := e.uc.OnTopicUpdated(e.ctx, topic)
	if len(again.Enqueued) != 0 || again.Existing != 2 {
		t.Fatalf("repeat update must reuse the queued tasks: %+v", again)
	}
	if n := e.drain(t); n != 2 {
		t.Fatalf("expected two update runs, got %d", n)
	}

	e.store.MakeUnready(topic)
	res, _ = e.uc.OnTopicUpdated(e.ctx, topic)
	if res.Readiness.Ready || len(res.Enqueued) != 0 {
		t.Fatalf("unready topic must not fan out: %+v", res)
	}
	ready, err := e.uc.CheckTopicReadiness(e.ctx, topic)
	if err != nil || ready.Ready || len(ready.Missing) == 0 {
		t.Fatalf("CheckTopicReadiness: %+v err=%v", ready, err)
	}
}

func TestRequestDeletionDryRunThenExecute(t *testing.T) {
	e := newTestEnv(t, 2)
	learner := uuid.New()
	e.uc.OnLearnerEntersModule(e.ctx, learner, e.fix.Modules[0].ID)
	e.drain(t)
	moduleID := e.fix.Modules[0].ID

	dry, err := e.uc.RequestDeletion(e.ctx, "module", moduleID, true)
	if err != nil || dry.Result != nil || !dry.Plan.DryRun {
		t.Fatalf("dry run: %+v err=%v", dry, err)
	}
	if e.store.Count("virtual_topic") != 2 {
		t.Fatalf("dry run must not delete anything")
	}

	out, err := e.uc.RequestDeletion(e.ctx, "module", moduleID, false)
	if err != nil || out.Result == nil || !out.Result.Completed {
		t.Fatalf("RequestDeletion: %+v err=%v", out, err)
	}
	if out.Result.TotalDeleted != int64(dry.Plan.TotalCount) {
		t.Fatalf("deleted %d, dry run predicted %d", out.Result.TotalDeleted, dry.Plan.TotalCount)
	}
	for _, c := range []string{"module", "topic", "content_unit", "virtual_module", "virtual_topic", "virtual_content_unit"} {
		if n := e.store.Count(c); n != 0 {
			t.Fatalf("%s: %d records left", c, n)
		}
	}
}

func TestRequestDeletionPartialFailureResumes(t *testing.T) {
	e := newTestEnv(t, 1)
	e.engine.Materialize(e.ctx, uuid.New(), e.fix.Topic(1, 1).ID)
	boom := errors.New("write timeout")
	e.store.FailDeletes("content_unit", boom)

	out, err := e.uc.RequestDeletion(e.ctx, "topic", e.fix.Topic(1, 1).ID, false)
	pf, ok := IsPartialFailure(err)
	if !ok || pf.Collection != "content_unit" || out == nil || out.Result == nil {
		t.Fatalf("expected partial failure at content_unit, got %+v err=%v", out, err)
	}

	e.store.FailDeletes("content_unit", nil)
	resumed, err := e.uc.ResumeDeletion(e.ctx, out.Plan, pf.Step)
	if err != nil || !resumed.Result.Completed {
		t.Fatalf("ResumeDeletion: %+v err=%v", resumed, err)
	}
	if e.store.Count("topic") != 0 || e.store.Count("content_unit") != 0 {
		t.Fatalf("resume left records behind")
	}
}

func TestPurgeLearner(t *testing.T) {
	e := newTestEnv(t, 3)
	alice, bob := uuid.New(), uuid.New()
	e.uc.OnLearnerEntersModule(e.ctx, alice, e.fix.Modules[0].ID)
	e.uc.OnLearnerEntersModule(e.ctx, bob, e.fix.Modules[0].ID)
	e.drain(t)
	bobUnits := e.store.Count("virtual_content_unit") / 2

	dry, err := e.uc.PurgeLearner(e.ctx, alice, true)
	if err != nil || len(dry) != 1 || dry[0].Result != nil {
		t.Fatalf("dry purge: %+v err=%v", dry, err)
	}
	out, err := e.uc.PurgeLearner(e.ctx, alice, false)
	if err != nil || len(out) != 1 || !out[0].Result.Completed {
		t.Fatalf("purge: %+v err=%v", out, err)
	}
	if vms, _ := e.store.VirtualModules().ListByLearner(e.dbc, alice); len(vms) != 0 {
		t.Fatalf("alice still has virtual modules")
	}
	if e.store.Count("virtual_content_unit") != bobUnits {
		t.Fatalf("bob's units were touched")
	}
}
