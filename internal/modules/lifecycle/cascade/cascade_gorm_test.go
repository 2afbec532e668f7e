package cascade

import (
	"context"
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos"
	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos/testutil"
	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/graph"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/virtualize"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/dbctx"
)

// Runs the topic cascade against the gorm repositories instead of the
// in-memory store.
func TestDeleteTopicOverGorm(t *testing.T) {
	gdb := testutil.DB(t)
	log := testutil.Logger(t)
	ctx := context.Background()
	dbc := dbctx.New(ctx)
	set := repos.NewSet(gdb, log)

	plan := testutil.SeedPlan(t, ctx, gdb)
	module := testutil.SeedModule(t, ctx, gdb, plan.ID, 1)
	topic := testutil.SeedTopic(t, ctx, gdb, module.ID, 1)
	units := testutil.SeedReadyUnits(t, ctx, gdb, topic.ID)
	alice, bob := uuid.New(), uuid.New()
	t.Cleanup(func() {
		gdb.Unscoped().Where("learner_id IN ?", []uuid.UUID{alice, bob}).Delete(&types.VirtualModule{})
		gdb.Unscoped().Where("topic_id = ?", topic.ID).Delete(&types.ContentUnit{})
		gdb.Unscoped().Where("id = ?", topic.ID).Delete(&types.Topic{})
		gdb.Unscoped().Where("id = ?", module.ID).Delete(&types.Module{})
		gdb.Unscoped().Where("id = ?", plan.ID).Delete(&types.Plan{})
	})

	engine := virtualize.New(virtualize.EngineDeps{Log: log, Repos: set})
	for _, learner := range []uuid.UUID{alice, bob} {
		if _, _, err := engine.Materialize(ctx, learner, topic.ID); err != nil {
			t.Fatalf("Materialize: %v", err)
		}
	}

	reg, err := graph.Load()
	if err != nil {
		t.Fatalf("graph.Load: %v", err)
	}
	planner := NewPlanner(PlannerDeps{
		Log:            log,
		Registry:       reg,
		Store:          set.Store,
		VirtualModules: set.VirtualModules,
		Tasks:          set.Tasks,
	})
	p, err := planner.Plan(ctx, "topic", topic.ID, false)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	want := map[string]int{"content_unit": len(units), "topic": 1, "virtual_topic": 2, "virtual_content_unit": 6}
	if got := p.Counts(); !reflect.DeepEqual(got, want) || p.DependentCount != 11 {
		t.Fatalf("counts=%v dependents=%d, want %v and 11", got, p.DependentCount, want)
	}

	res, err := NewExecutor(log, set.Store).Execute(ctx, p)
	if err != nil || !res.Completed || res.TotalDeleted != int64(p.TotalCount) {
		t.Fatalf("Execute: %+v err=%v", res, err)
	}
	for _, s := range p.Steps {
		left, err := set.Store.FindIDs(dbc, s.Collection, "id", s.IDs)
		if err != nil || len(left) != 0 {
			t.Fatalf("%s: %d records left after cascade, err=%v", s.Collection, len(left), err)
		}
	}
	if vt, _ := set.VirtualTopics.GetByLearnerTopic(dbc, alice, topic.ID); vt != nil {
		t.Fatalf("virtual topic survived the cascade")
	}
}
