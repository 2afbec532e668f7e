// Package lifecycle is the entry point of the virtual content lifecycle: it
// reacts to learner and author events and delegates to the scheduler, the
// progress tracker and the cascade planner/executor.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos"
	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/cascade"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/lookahead"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/progress"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/readiness"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/errs"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
	"github.com/yungbote/neurobridge-lifecycle/internal/services"
)

type UsecasesDeps struct {
	Log *logger.Logger

	Repos     repos.Set
	Readiness *readiness.Evaluator
	Scheduler *lookahead.Scheduler
	Tracker   *progress.Tracker
	Queue     services.GenerationQueue
	Planner   *cascade.Planner
	Executor  *cascade.Executor

	// AwaitPoll is the task polling interval of AwaitTask (default 250ms).
	AwaitPoll time.Duration
}

type Usecases struct {
	deps UsecasesDeps
	log  *logger.Logger
}

func New(deps UsecasesDeps) Usecases {
	if deps.AwaitPoll <= 0 {
		deps.AwaitPoll = 250 * time.Millisecond
	}
	if deps.Readiness == nil {
		deps.Readiness = readiness.New(deps.Repos.Curriculum)
	}
	return Usecases{deps: deps, log: deps.Log.With("component", "LifecycleUsecases")}
}

type (
	LookaheadStatus = lookahead.Status
	Progress        = progress.Progress
	DeletionPlan    = cascade.DeletionPlan
	ExecutionResult = cascade.ExecutionResult
)

type EnterResult struct {
	// FirstTaskID is the immediate-priority generate task for the learner's
	// position, nil when that topic is already materialized.
	FirstTaskID *uuid.UUID `json:"first_task_id,omitempty"`
	// Awaitable is true only for the first module of a plan; callers may block
	// on FirstTaskID with AwaitTask there and nowhere else.
	Awaitable bool             `json:"awaitable"`
	Status    *LookaheadStatus `json:"status"`
}

type DeletionResult struct {
	Plan   *DeletionPlan    `json:"plan"`
	Result *ExecutionResult `json:"result,omitempty"`
}

type TopicUpdateResult struct {
	TopicID   uuid.UUID        `json:"topic_id"`
	Readiness readiness.Result `json:"readiness"`
	Enqueued  []uuid.UUID      `json:"enqueued"`
	Existing  int              `json:"existing"`
}

// OnLearnerEntersModule activates the learner's virtual module and fills the
// lookahead buffer, the first topic at immediate priority.
func (u Usecases) OnLearnerEntersModule(ctx context.Context, learnerID, moduleID uuid.UUID) (*EnterResult, error) {
	if learnerID == uuid.Nil || moduleID == uuid.Nil {
		return nil, errs.Invalid("learner_id and module_id are required")
	}
	dbc := dbctx.New(ctx)
	module, err := u.deps.Repos.Curriculum.GetModule(dbc, moduleID)
	if err != nil {
		return nil, fmt.Errorf("load module: %w", err)
	}
	if module == nil {
		return nil, errs.NotFound("module", moduleID)
	}
	if err := u.deps.Queue.TouchLearner(dbc, learnerID); err != nil {
		u.log.Warn("Touch learner failed", "learner_id", learnerID, "error", err)
	}

	st, err := u.deps.Scheduler.Reconcile(ctx, learnerID, moduleID)
	if err != nil {
		return nil, err
	}
	out := &EnterResult{Status: st}
	for _, e := range append(append([]lookahead.Enqueued{}, st.Enqueued...), st.Raised...) {
		if e.ModuleID == moduleID && e.Priority == types.PriorityImmediate && e.TaskID != uuid.Nil {
			id := e.TaskID
			out.FirstTaskID = &id
			break
		}
	}
	modules, err := u.deps.Repos.Curriculum.ListModules(dbc, module.PlanID)
	if err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	out.Awaitable = len(modules) > 0 && modules[0].ID == moduleID

	u.log.Info("Learner entered module",
		"learner_id", learnerID,
		"module_id", moduleID,
		"state", st.State,
		"awaitable", out.Awaitable,
	)
	return out, nil
}

func (u Usecases) OnContentCompleted(ctx context.Context, vcuID uuid.UUID, score float64) (*Progress, error) {
	if vcuID == uuid.Nil {
		return nil, errs.Invalid("virtual_content_unit_id is required")
	}
	return u.deps.Tracker.RecordCompletion(ctx, vcuID, score)
}

// RequestDeletion plans the removal of collection/id and, unless dryRun,
// executes it. On a partial failure the returned result carries both the plan
// and the steps that completed, alongside a *cascade.PartialFailure.
func (u Usecases) RequestDeletion(ctx context.Context, collection string, id uuid.UUID, dryRun bool) (*DeletionResult, error) {
	plan, err := u.deps.Planner.Plan(ctx, collection, id, dryRun)
	if err != nil {
		return nil, err
	}
	out := &DeletionResult{Plan: plan}
	if dryRun {
		return out, nil
	}
	res, err := u.deps.Executor.Execute(ctx, plan)
	out.Result = res
	return out, err
}

// ResumeDeletion re-runs a previously computed plan from step on.
func (u Usecases) ResumeDeletion(ctx context.Context, plan *DeletionPlan, step int) (*DeletionResult, error) {
	if plan == nil {
		return nil, errs.Invalid("plan is required")
	}
	res, err := u.deps.Executor.ExecuteFrom(ctx, plan, step)
	return &DeletionResult{Plan: plan, Result: res}, err
}

// PurgeLearner removes everything virtualized for a learner. Plans run in
// order and the first failure stops the purge.
func (u Usecases) PurgeLearner(ctx context.Context, learnerID uuid.UUID, dryRun bool) ([]*DeletionResult, error) {
	plans, err := u.deps.Planner.PlanLearner(ctx, learnerID, dryRun)
	if err != nil {
		return nil, err
	}
	out := make([]*DeletionResult, 0, len(plans))
	for _, p := range plans {
		r := &DeletionResult{Plan: p}
		out = append(out, r)
		if dryRun {
			continue
		}
		res, err := u.deps.Executor.Execute(ctx, p)
		r.Result = res
		if err != nil {
			return out, err
		}
	}
	u.log.Info("Learner purge", "learner_id", learnerID, "dry_run", dryRun, "plans", len(plans))
	return out, nil
}

func (u Usecases) GetLookaheadStatus(ctx context.Context, learnerID, moduleID uuid.UUID) (*LookaheadStatus, error) {
	if learnerID == uuid.Nil || moduleID == uuid.Nil {
		return nil, errs.Invalid("learner_id and module_id are required")
	}
	return u.deps.Scheduler.Status(ctx, learnerID, moduleID)
}

// OnTopicUpdated queues an update task for every learner that materialized the
// topic. Nothing is queued while the topic fails readiness.
func (u Usecases) OnTopicUpdated(ctx context.Context, topicID uuid.UUID) (*TopicUpdateResult, error) {
	dbc := dbctx.New(ctx)
	topic, err := u.deps.Repos.Curriculum.GetTopic(dbc, topicID)
	if err != nil {
		return nil, fmt.Errorf("load topic: %w", err)
	}
	if topic == nil {
		return nil, errs.NotFound("topic", topicID)
	}
	ready, err := u.deps.Readiness.IsTopicReady(ctx, topicID)
	if err != nil {
		return nil, err
	}
	out := &TopicUpdateResult{TopicID: topicID, Readiness: ready, Enqueued: []uuid.UUID{}}
	if !ready.Ready {
		u.log.Info("Topic update deferred until ready", "topic_id", topicID, "missing", ready.Missing)
		return out, nil
	}
	vts, err := u.deps.Repos.VirtualTopics.ListByTopic(dbc, topicID)
	if err != nil {
		return nil, fmt.Errorf("list virtual topics: %w", err)
	}
	for _, vt := range vts {
		task, created, err := u.deps.Queue.Enqueue(dbc, services.EnqueueRequest{
			LearnerID: vt.LearnerID,
			ModuleID:  vt.ModuleID,
			TopicID:   topicID,
			Kind:      types.TaskKindUpdate,
			Priority:  types.PriorityBackground,
		})
		if err != nil {
			return out, fmt.Errorf("enqueue update for learner %s: %w", vt.LearnerID, err)
		}
		if created {
			out.Enqueued = append(out.Enqueued, task.ID)
		} else {
			out.Existing++
		}
	}
	u.log.Info("Topic update fanned out", "topic_id", topicID, "enqueued", len(out.Enqueued), "existing", out.Existing)
	return out, nil
}

func (u Usecases) CheckTopicReadiness(ctx context.Context, topicID uuid.UUID) (readiness.Result, error) {
	dbc := dbctx.New(ctx)
	topic, err := u.deps.Repos.Curriculum.GetTopic(dbc, topicID)
	if err != nil {
		return readiness.Result{}, fmt.Errorf("load topic: %w", err)
	}
	if topic == nil {
		return readiness.Result{}, errs.NotFound("topic", topicID)
	}
	return u.deps.Readiness.IsTopicReady(ctx, topicID)
}

func (u Usecases) GetTask(ctx context.Context, taskID uuid.UUID) (*types.GenerationTask, error) {
	task, err := u.deps.Queue.Get(dbctx.New(ctx), taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, errs.NotFound("generation_task", taskID)
	}
	return task, nil
}

// AwaitTask polls a task until it is done or failed, or ctx ends.
func (u Usecases) AwaitTask(ctx context.Context, taskID uuid.UUID) (*types.GenerationTask, error) {
	ticker := time.NewTicker(u.deps.AwaitPoll)
	defer ticker.Stop()
	for {
		task, err := u.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if task.Terminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}

// IsPartialFailure reports whether err stopped a cascade midway and returns it.
func IsPartialFailure(err error) (*cascade.PartialFailure, bool) {
	var pf *cascade.PartialFailure
	if errors.As(err, &pf) {
		return pf, true
	}
	return nil, false
}
