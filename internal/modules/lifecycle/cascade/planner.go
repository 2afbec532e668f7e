package cascade

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/graph"
	"github.com/yungbote/neurobridge-lifecycle/internal/observability"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/errs"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

type Notifier interface {
	EmptyCollection(ctx context.Context, collection string)
}

type PlannerDeps struct {
	Log      *logger.Logger
	Registry *graph.Registry
	Store    repos.GenericStore
	Notify   Notifier
	// Used by PlanLearner.
	VirtualModules repos.VirtualModuleRepo
	Tasks          repos.GenerationTaskRepo
}

type Planner struct {
	log      *logger.Logger
	registry *graph.Registry
	store    repos.GenericStore
	notify   Notifier
	vms      repos.VirtualModuleRepo
	tasks    repos.GenerationTaskRepo
}

func NewPlanner(deps PlannerDeps) *Planner {
	return &Planner{
		log:      deps.Log.With("component", "CascadeDeletionPlanner"),
		registry: deps.Registry,
		store:    deps.Store,
		notify:   deps.Notify,
		vms:      deps.VirtualModules,
		tasks:    deps.Tasks,
	}
}

// Plan computes the deletion of collection/id and everything reachable from it.
// The store is only read; dryRun just marks the plan as not executable.
func (p *Planner) Plan(ctx context.Context, collection string, id uuid.UUID, dryRun bool) (*DeletionPlan, error) {
	ctx, span := observability.StartSpan(ctx, "lifecycle.cascade.plan",
		attribute.String("collection", collection),
		attribute.Bool("dry_run", dryRun),
	)
	defer span.End()

	if !p.registry.Has(collection) {
		return nil, errs.Invalid("unknown collection %q", collection)
	}
	if id == uuid.Nil {
		return nil, errs.Invalid("target id is required")
	}
	dbc := dbctx.New(ctx)
	found, err := p.store.FindIDs(dbc, collection, "id", []uuid.UUID{id})
	if err != nil {
		return nil, fmt.Errorf("find target: %w", err)
	}
	if len(found) == 0 {
		return nil, errs.NotFound(collection, id)
	}

	order := p.visitOrder(collection)
	ids := map[string][]uuid.UUID{collection: {id}}
	plan := &DeletionPlan{
		Collection: collection,
		TargetID:   id,
		DryRun:     dryRun,
		VisitOrder: order,
		Steps:      []Step{},
		PlannedAt:  time.Now().UTC(),
	}

	reach := p.registry.Reachable(collection)
	for _, c := range order[1:] {
		set := map[uuid.UUID]struct{}{}
		for _, e := range p.registry.ParentsOf(c) {
			if !reach[e.Parent] || len(ids[e.Parent]) == 0 {
				continue
			}
			refs, err := p.store.FindIDs(dbc, c, e.Field, ids[e.Parent])
			if err != nil {
				return nil, fmt.Errorf("find %s by %s: %w", c, e.Field, err)
			}
			for _, r := range refs {
				set[r] = struct{}{}
			}
		}
		if len(set) == 0 {
			plan.EmptyCollections = append(plan.EmptyCollections, c)
			continue
		}
		ids[c] = sortedIDs(set)
	}

	for i := len(order) - 1; i >= 0; i-- {
		c := order[i]
		if len(ids[c]) == 0 {
			continue
		}
		step := Step{
			Index:       len(plan.Steps),
			Collection:  c,
			Strategy:    p.registry.Strategy(c),
			IDs:         ids[c],
			Bookkeeping: p.registry.Bookkeeping(c),
		}
		plan.Steps = append(plan.Steps, step)
		switch {
		case c == collection:
		case step.Bookkeeping:
			plan.BookkeepingCount += len(step.IDs)
		default:
			plan.DependentCount += len(step.IDs)
		}
	}
	plan.TotalCount = plan.DependentCount + plan.BookkeepingCount + 1

	for _, c := range plan.EmptyCollections {
		observability.Current().IncEmptyCollection(c)
		if p.notify != nil {
			p.notify.EmptyCollection(ctx, c)
		}
	}
	if len(plan.EmptyCollections) > 0 {
		p.log.Info("Cascade found no records in some collections",
			"collection", collection,
			"target_id", id,
			"empty", plan.EmptyCollections,
		)
	}
	span.SetAttributes(attribute.Int("steps", len(plan.Steps)), attribute.Int("total", plan.TotalCount))
	p.log.Info("Cascade planned",
		"collection", collection,
		"target_id", id,
		"dry_run", dryRun,
		"steps", len(plan.Steps),
		"dependents", plan.DependentCount,
		"bookkeeping", plan.BookkeepingCount,
	)
	return plan, nil
}

// visitOrder runs Kahn's algorithm over the subgraph reachable from start.
// Ties follow declaration order, so the result is stable across runs.
func (p *Planner) visitOrder(start string) []string {
	reach := p.registry.Reachable(start)
	indeg := map[string]int{}
	for c := range reach {
		if c == start {
			continue
		}
		for _, e := range p.registry.ParentsOf(c) {
			if reach[e.Parent] {
				indeg[c]++
			}
		}
	}
	order := make([]string, 0, len(reach))
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		for _, e := range p.registry.ChildrenOf(cur) {
			indeg[e.Child]--
			if indeg[e.Child] == 0 {
				queue = append(queue, e.Child)
			}
		}
	}
	return order
}

func sortedIDs(set map[uuid.UUID]struct{}) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
