package progress

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos/memstore"
	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/lookahead"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/virtualize"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/errs"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

type fakeScheduler struct {
	mu        sync.Mutex
	reconcile int
	prime     int
}

func (f *fakeScheduler) Reconcile(context.Context, uuid.UUID, uuid.UUID) (*lookahead.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconcile++
	return &lookahead.Status{}, nil
}

func (f *fakeScheduler) PrimeNextModule(context.Context, uuid.UUID, uuid.UUID) (*lookahead.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prime++
	return &lookahead.Status{}, nil
}

type fakeActivity struct{ touched int }

func (f *fakeActivity) TouchLearner(dbctx.Context, uuid.UUID) error {
	f.touched++
	return nil
}

type fixture struct {
	store    *memstore.Store
	fix      memstore.Fixture
	engine   *virtualize.Engine
	tracker  *Tracker
	sched    *fakeScheduler
	activity *fakeActivity
	learner  uuid.UUID
	dbc      dbctx.Context
}

func setup(t *testing.T, topicsPerModule ...int) *fixture {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	s := memstore.New()
	f := &fixture{
		store:    s,
		fix:      s.SeedCurriculum(topicsPerModule...),
		engine:   virtualize.New(virtualize.EngineDeps{Log: log, Repos: s.Set()}),
		sched:    &fakeScheduler{},
		activity: &fakeActivity{},
		learner:  uuid.New(),
		dbc:      dbctx.New(context.Background()),
	}
	f.tracker = New(Deps{Log: log, Repos: s.Set(), Scheduler: f.sched, Activity: f.activity})
	return f
}

// addUnits gives a topic two more interactive units so progress moves in 20% steps.
func (f *fixture) addUnits(topicID uuid.UUID) {
	for i := 0; i < 2; i++ {
		f.store.AddContentUnit(&types.ContentUnit{
			TopicID: topicID,
			Kind:    "theory",
			Order:   10 + i,
			Tags:    datatypes.JSONSlice[string]{types.TagInteractive},
		})
	}
}

func (f *fixture) materialize(t *testing.T, m, n int) (*types.VirtualTopic, []*types.VirtualContentUnit) {
	t.Helper()
	vt, _, err := f.engine.Materialize(context.Background(), f.learner, f.fix.Topic(m, n).ID)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	units, _ := f.store.VirtualUnits().ListByVirtualTopic(f.dbc, vt.ID)
	return vt, units
}

func TestCompletionDrivesTopicProgressAndUnlock(t *testing.T) {
	f := setup(t, 2)
	f.addUnits(f.fix.Topic(1, 1).ID)
	_, units := f.materialize(t, 1, 1)
	vt2, _ := f.materialize(t, 1, 2)
	if len(units) != 5 || vt2.Lock != types.LockLocked {
		t.Fatalf("setup: units=%d topic2 lock=%s", len(units), vt2.Lock)
	}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := f.tracker.RecordCompletion(ctx, units[i].ID, 1)
		if err != nil {
			t.Fatalf("RecordCompletion %d: %v", i, err)
		}
		if p.Reconciled {
			t.Fatalf("no reconcile expected below 80%%, got one at %v", p.TopicProgress)
		}
	}

	p, _ := f.tracker.RecordCompletion(ctx, units[3].ID, 1)
	if p.TopicProgress != 80 || !p.Reconciled || f.sched.reconcile != 1 {
		t.Fatalf("crossing 80%%: progress=%v reconciles=%d", p.TopicProgress, f.sched.reconcile)
	}
	if got, _ := f.store.VirtualTopics().GetByID(f.dbc, vt2.ID); got.Lock != types.LockLocked {
		t.Fatalf("topic 2 must stay locked until topic 1 completes")
	}

	p, _ = f.tracker.RecordCompletion(ctx, units[4].ID, 1)
	if p.TopicProgress != 100 || f.sched.reconcile != 2 {
		t.Fatalf("completion: progress=%v reconciles=%d", p.TopicProgress, f.sched.reconcile)
	}
	if p.Unlocked == nil || *p.Unlocked != vt2.ID {
		t.Fatalf("expected topic 2 unlocked, got %v", p.Unlocked)
	}
	if got, _ := f.store.VirtualTopics().GetByID(f.dbc, vt2.ID); got.Lock != types.LockUnlocked {
		t.Fatalf("topic 2 lock not persisted")
	}
	if p.ModuleProgress != 50 || p.ModuleStatus != types.ModuleStatusActive {
		t.Fatalf("module: progress=%v status=%s", p.ModuleProgress, p.ModuleStatus)
	}
	if f.activity.touched != 5 {
		t.Fatalf("expected every completion to touch learner activity, got %d", f.activity.touched)
	}
}

func TestCompletionIsIdempotent(t *testing.T) {
	f := setup(t, 1)
	_, units := f.materialize(t, 1, 1)
	ctx := context.Background()

	first, err := f.tracker.RecordCompletion(ctx, units[0].ID, 0.5)
	if err != nil || first.Duplicate {
		t.Fatalf("first completion: %+v err=%v", first, err)
	}
	second, err := f.tracker.RecordCompletion(ctx, units[0].ID, 0.9)
	if err != nil || !second.Duplicate || second.TopicProgress != first.TopicProgress {
		t.Fatalf("second completion: %+v err=%v", second, err)
	}
	stored, _ := f.store.VirtualUnits().GetByID(f.dbc, units[0].ID)
	if stored.Score == nil || *stored.Score != 0.5 {
		t.Fatalf("duplicate completion overwrote the score: %v", stored.Score)
	}
}

func TestModuleCompletionPrimesNextModule(t *testing.T) {
	f := setup(t, 1, 1)
	_, units := f.materialize(t, 1, 1)
	ctx := context.Background()

	vm, _ := f.store.VirtualModules().GetByLearnerModule(f.dbc, f.learner, f.fix.Modules[0].ID)
	if vm.Status != types.ModuleStatusPending {
		t.Fatalf("setup: expected pending module, got %s", vm.Status)
	}

	p, _ := f.tracker.RecordCompletion(ctx, units[0].ID, 1)
	if p.ModuleStatus != types.ModuleStatusActive || f.sched.prime != 0 {
		t.Fatalf("first completion: status=%s primes=%d", p.ModuleStatus, f.sched.prime)
	}
	f.tracker.RecordCompletion(ctx, units[1].ID, 1)
	p, _ = f.tracker.RecordCompletion(ctx, units[2].ID, 1)
	if p.ModuleProgress != 100 || p.ModuleStatus != types.ModuleStatusCompleted {
		t.Fatalf("last completion: progress=%v status=%s", p.ModuleProgress, p.ModuleStatus)
	}
	if !p.PrimedNext || f.sched.prime != 1 {
		t.Fatalf("expected one prime of the next module, got %d", f.sched.prime)
	}
	vm, _ = f.store.VirtualModules().GetByID(f.dbc, vm.ID)
	if vm.Status != types.ModuleStatusCompleted || vm.CompletedAt == nil {
		t.Fatalf("module completion not persisted: %+v", vm)
	}
}

func TestCompletionUnknownUnit(t *testing.T) {
	f := setup(t, 1)
	if _, err := f.tracker.RecordCompletion(context.Background(), uuid.New(), 1); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCompletionDoesNotUnlockPastAGap(t *testing.T) {
	f := setup(t, 3)
	_, units := f.materialize(t, 1, 1)
	vt3, _ := f.materialize(t, 1, 3)
	ctx := context.Background()

	var p *Progress
	for _, u := range units {
		var err error
		if p, err = f.tracker.RecordCompletion(ctx, u.ID, 1); err != nil {
			t.Fatalf("RecordCompletion: %v", err)
		}
	}
	if p.TopicProgress != 100 || p.Unlocked != nil {
		t.Fatalf("topic 2 is not materialized, nothing may unlock: progress=%v unlocked=%v", p.TopicProgress, p.Unlocked)
	}
	if got, _ := f.store.VirtualTopics().GetByID(f.dbc, vt3.ID); got.Lock != types.LockLocked {
		t.Fatalf("topic 3 unlocked out of order")
	}

	vt2, _ := f.materialize(t, 1, 2)
	if vt2.Lock != types.LockUnlocked {
		t.Fatalf("topic 2 should materialize unlocked once topic 1 is complete, got %s", vt2.Lock)
	}
}
