package cascade

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos"
	"github.com/yungbote/neurobridge-lifecycle/internal/observability"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/errs"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

type Executor struct {
	log   *logger.Logger
	store repos.GenericStore
}

func NewExecutor(baseLog *logger.Logger, store repos.GenericStore) *Executor {
	return &Executor{log: baseLog.With("component", "CascadeExecutor"), store: store}
}

func (x *Executor) Execute(ctx context.Context, plan *DeletionPlan) (*ExecutionResult, error) {
	return x.ExecuteFrom(ctx, plan, 0)
}

// ExecuteFrom runs the plan's steps in order starting at index from. It stops
// at the first failing step or when ctx is cancelled between steps and returns
// a *PartialFailure naming that step. Nothing is retried.
func (x *Executor) ExecuteFrom(ctx context.Context, plan *DeletionPlan, from int) (*ExecutionResult, error) {
	if plan == nil {
		return nil, errs.Invalid("nil deletion plan")
	}
	if plan.DryRun {
		return nil, errs.Invalid("dry-run plan cannot be executed")
	}
	if from < 0 || from > len(plan.Steps) {
		return nil, errs.Invalid("step %d out of range [0,%d]", from, len(plan.Steps))
	}
	ctx, span := observability.StartSpan(ctx, "lifecycle.cascade.execute",
		attribute.String("collection", plan.Collection),
		attribute.Int("from_step", from),
	)
	defer span.End()

	res := &ExecutionResult{
		Collection:    plan.Collection,
		TargetID:      plan.TargetID,
		Steps:         []StepResult{},
		DeletedCounts: map[string]int64{},
	}
	dbc := dbctx.New(ctx)
	for i := from; i < len(plan.Steps); i++ {
		step := plan.Steps[i]
		if err := ctx.Err(); err != nil {
			return res, x.stop(span, res, i, step.Collection, err)
		}
		n, err := x.store.DeleteMany(dbc, step.Collection, step.IDs, deleteMode(step.Strategy))
		if err != nil {
			observability.Current().ObserveCascadeStep(step.Collection, "failed", 0)
			return res, x.stop(span, res, i, step.Collection, err)
		}
		observability.Current().ObserveCascadeStep(step.Collection, "ok", n)
		res.Steps = append(res.Steps, StepResult{
			Index:      i,
			Collection: step.Collection,
			Requested:  len(step.IDs),
			Deleted:    n,
		})
		res.DeletedCounts[step.Collection] += n
		res.TotalDeleted += n
		x.log.Debug("Cascade step done", "step", i, "collection", step.Collection, "deleted", n)
	}
	res.Completed = true
	x.log.Info("Cascade executed",
		"collection", plan.Collection,
		"target_id", plan.TargetID,
		"from_step", from,
		"deleted", res.TotalDeleted,
	)
	return res, nil
}

func (x *Executor) stop(span trace.Span, res *ExecutionResult, step int, collection string, err error) error {
	idx := step
	res.FailedStep = &idx
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	x.log.Error("Cascade stopped",
		"collection", res.Collection,
		"target_id", res.TargetID,
		"step", step,
		"step_collection", collection,
		"error", err,
	)
	return &PartialFailure{Step: step, Collection: collection, Err: err}
}
