package cascade

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-lifecycle/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/errs"
)

const (
	collectionVirtualModule  = "virtual_module"
	collectionGenerationTask = "generation_task"
)

// PlanLearner plans the removal of everything virtualized for one learner: one
// plan per virtual module. Any remaining generation tasks of the learner are
// deleted by a leading step on the first plan so no worker regenerates content
// mid-purge.
func (p *Planner) PlanLearner(ctx context.Context, learnerID uuid.UUID, dryRun bool) ([]*DeletionPlan, error) {
	if p.vms == nil || p.tasks == nil {
		return nil, errs.Invalid("learner purge is not configured")
	}
	if learnerID == uuid.Nil {
		return nil, errs.Invalid("learner id is required")
	}
	dbc := dbctx.New(ctx)
	vms, err := p.vms.ListByLearner(dbc, learnerID)
	if err != nil {
		return nil, fmt.Errorf("list virtual modules: %w", err)
	}
	tasks, err := p.tasks.ListByLearner(dbc, learnerID)
	if err != nil {
		return nil, fmt.Errorf("list generation tasks: %w", err)
	}

	plans := make([]*DeletionPlan, 0, len(vms))
	for _, vm := range vms {
		plan, err := p.Plan(ctx, collectionVirtualModule, vm.ID, dryRun)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	if len(tasks) == 0 {
		return plans, nil
	}

	ids := make([]uuid.UUID, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	lead := Step{
		Collection:  collectionGenerationTask,
		Strategy:    p.registry.Strategy(collectionGenerationTask),
		IDs:         ids,
		Bookkeeping: p.registry.Bookkeeping(collectionGenerationTask),
	}
	if len(plans) == 0 {
		// tasks without any virtual module: a plan of its own
		plans = append(plans, (&DeletionPlan{
			Collection: collectionGenerationTask,
			TargetID:   learnerID,
			DryRun:     dryRun,
			VisitOrder: []string{collectionGenerationTask},
			Steps:      []Step{},
		}).WithLeadingStep(lead))
		return plans, nil
	}
	plans[0] = plans[0].WithLeadingStep(lead)
	return plans, nil
}
