package services

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos"
	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos/store"
	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
	"github.com/yungbote/neurobridge-lifecycle/internal/observability"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/envutil"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/errs"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

// TaskNotifier receives tasks that reached the terminal failed state.
type TaskNotifier interface {
	TaskFailed(ctx context.Context, task *types.GenerationTask, cause string)
}

type QueueConfig struct {
	MaxRetries   int
	RetryBase    time.Duration
	RetryMax     time.Duration
	StaleRunning time.Duration
	StaleQueued  time.Duration
	// Now defaults to time.Now in UTC.
	Now func() time.Time
}

func QueueConfigFromEnv() QueueConfig {
	return QueueConfig{
		MaxRetries:   envutil.IntRange("GENERATION_MAX_RETRIES", 3, 0, 20),
		RetryBase:    envutil.Seconds("GENERATION_RETRY_BASE_SECONDS", 2*time.Second),
		RetryMax:     envutil.Seconds("GENERATION_RETRY_MAX_SECONDS", 5*time.Minute),
		StaleRunning: envutil.Minutes("GENERATION_STALE_RUNNING_MINUTES", 15*time.Minute),
		StaleQueued:  envutil.Minutes("GENERATION_STALE_QUEUED_MINUTES", 30*time.Minute),
	}
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 2 * time.Second
	}
	if c.RetryMax < c.RetryBase {
		c.RetryMax = c.RetryBase
	}
	if c.StaleRunning <= 0 {
		c.StaleRunning = 15 * time.Minute
	}
	if c.StaleQueued <= 0 {
		c.StaleQueued = 30 * time.Minute
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

// Backoff returns the delay before retry n (1-based): base*2^(n-1), capped at max.
func (c QueueConfig) Backoff(n int) time.Duration {
	c = c.withDefaults()
	if n < 1 {
		n = 1
	}
	d := c.RetryBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= c.RetryMax {
			return c.RetryMax
		}
	}
	if d > c.RetryMax {
		return c.RetryMax
	}
	return d
}

type EnqueueRequest struct {
	LearnerID uuid.UUID
	ModuleID  uuid.UUID
	TopicID   uuid.UUID
	Kind      string
	Priority  int
}

type GenerationQueue interface {
	// Enqueue returns the active task for the request's idempotency key, creating
	// it when none exists. created is false when an existing task was returned.
	Enqueue(dbc dbctx.Context, req EnqueueRequest) (task *types.GenerationTask, created bool, err error)
	DequeueNext(dbc dbctx.Context) (*types.GenerationTask, error)
	Heartbeat(dbc dbctx.Context, taskID uuid.UUID) error
	MarkDone(dbc dbctx.Context, taskID uuid.UUID, outcome string) error
	MarkFailed(dbc dbctx.Context, taskID uuid.UUID, cause error, retryable bool) (*types.GenerationTask, error)
	Get(dbc dbctx.Context, taskID uuid.UUID) (*types.GenerationTask, error)
	ListActive(dbc dbctx.Context, learnerID, moduleID uuid.UUID) ([]*types.GenerationTask, error)
	// TouchLearner marks the learner active. Tasks demoted while they were idle
	// return to background priority.
	TouchLearner(dbc dbctx.Context, learnerID uuid.UUID) error
	DemoteStale(dbc dbctx.Context) (int64, error)
}

const keyStripes = 64

type generationQueue struct {
	log    *logger.Logger
	repo   repos.GenerationTaskRepo
	notify TaskNotifier
	cfg    QueueConfig

	stripes [keyStripes]sync.Mutex
}

func NewGenerationQueue(baseLog *logger.Logger, repo repos.GenerationTaskRepo, notify TaskNotifier, cfg QueueConfig) GenerationQueue {
	return &generationQueue{
		log:    baseLog.With("service", "GenerationQueue"),
		repo:   repo,
		notify: notify,
		cfg:    cfg.withDefaults(),
	}
}

func (q *generationQueue) lockKey(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &q.stripes[h.Sum32()%keyStripes]
	mu.Lock()
	return mu.Unlock
}

func (q *generationQueue) Enqueue(dbc dbctx.Context, req EnqueueRequest) (*types.GenerationTask, bool, error) {
	if req.LearnerID == uuid.Nil || req.TopicID == uuid.Nil {
		return nil, false, errs.Invalid("enqueue: learner_id and topic_id are required")
	}
	if req.Kind == "" {
		req.Kind = types.TaskKindGenerate
	}
	if req.Kind != types.TaskKindGenerate && req.Kind != types.TaskKindUpdate {
		return nil, false, errs.Invalid("enqueue: unknown task kind %q", req.Kind)
	}
	if req.Priority <= 0 {
		req.Priority = types.PriorityBackground
	}

	key := types.IdempotencyKey(req.LearnerID, req.TopicID, req.Kind)
	unlock := q.lockKey(key)
	defer unlock()

	existing, err := q.repo.GetActiveByKey(dbc, key)
	if err != nil {
		return nil, false, fmt.Errorf("lookup active task: %w", err)
	}
	if existing != nil {
		return q.absorbDuplicate(dbc, existing, req)
	}

	now := q.cfg.Now()
	task := &types.GenerationTask{
		ID:             uuid.New(),
		LearnerID:      req.LearnerID,
		ModuleID:       req.ModuleID,
		TopicID:        req.TopicID,
		Kind:           req.Kind,
		IdempotencyKey: key,
		Status:         types.TaskStatusQueued,
		Priority:       req.Priority,
		NextRunAt:      now,
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := q.repo.Create(dbc, task); err != nil {
		if !errors.Is(err, store.ErrDuplicate) {
			return nil, false, fmt.Errorf("create task: %w", err)
		}
		// another process won the race for the key
		existing, rerr := q.repo.GetActiveByKey(dbc, key)
		if rerr != nil {
			return nil, false, fmt.Errorf("lookup active task: %w", rerr)
		}
		if existing == nil {
			return nil, false, fmt.Errorf("create task: %w", err)
		}
		return q.absorbDuplicate(dbc, existing, req)
	}

	observability.Current().IncTaskEnqueued(task.Kind, task.Priority, true)
	q.log.Debug("Generation task enqueued",
		"task_id", task.ID,
		"learner_id", task.LearnerID,
		"topic_id", task.TopicID,
		"kind", task.Kind,
		"priority", task.Priority,
	)
	return task, true, nil
}

// absorbDuplicate turns an idempotent skip into the existing task, raising its
// priority when the new request is more urgent.
func (q *generationQueue) absorbDuplicate(dbc dbctx.Context, existing *types.GenerationTask, req EnqueueRequest) (*types.GenerationTask, bool, error) {
	if req.Priority > existing.Priority {
		if err := q.repo.RaisePriority(dbc, existing.ID, req.Priority); err != nil {
			return nil, false, fmt.Errorf("raise priority: %w", err)
		}
		existing.Priority = req.Priority
	}
	observability.Current().IncTaskEnqueued(existing.Kind, existing.Priority, false)
	q.log.Debug("Enqueue absorbed", "task_id", existing.ID, "reason", errs.ErrTaskIdempotentSkip.Error())
	return existing, false, nil
}

func (q *generationQueue) DequeueNext(dbc dbctx.Context) (*types.GenerationTask, error) {
	now := q.cfg.Now()
	return q.repo.ClaimNext(dbc, now, now.Add(-q.cfg.StaleRunning))
}

func (q *generationQueue) Heartbeat(dbc dbctx.Context, taskID uuid.UUID) error {
	return q.repo.Heartbeat(dbc, taskID, q.cfg.Now())
}

func (q *generationQueue) MarkDone(dbc dbctx.Context, taskID uuid.UUID, outcome string) error {
	ok, err := q.repo.Finish(dbc, taskID, types.TaskStatusDone, outcome, "", q.cfg.Now())
	if err != nil {
		return fmt.Errorf("finish task: %w", err)
	}
	if !ok {
		q.log.Debug("MarkDone on terminal task ignored", "task_id", taskID)
	}
	return nil
}

func (q *generationQueue) MarkFailed(dbc dbctx.Context, taskID uuid.UUID, cause error, retryable bool) (*types.GenerationTask, error) {
	task, err := q.repo.GetByID(dbc, taskID)
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}
	if task == nil {
		return nil, errs.NotFound("generation task", taskID)
	}
	if task.Terminal() {
		return task, nil
	}

	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	now := q.cfg.Now()

	if retryable && task.RetryCount < q.cfg.MaxRetries {
		n := task.RetryCount + 1
		next := now.Add(q.cfg.Backoff(n))
		if err := q.repo.Requeue(dbc, task.ID, n, next, msg, now); err != nil {
			return nil, fmt.Errorf("requeue task: %w", err)
		}
		observability.Current().IncTaskRetry(task.Kind)
		q.log.Warn("Generation task re-queued",
			"task_id", task.ID,
			"learner_id", task.LearnerID,
			"retry_count", n,
			"next_run_at", next,
			"error", msg,
		)
		task.Status = types.TaskStatusQueued
		task.RetryCount = n
		task.NextRunAt = next
		task.Error = msg
		return task, nil
	}

	ok, err := q.repo.Finish(dbc, task.ID, types.TaskStatusFailed, "", msg, now)
	if err != nil {
		return nil, fmt.Errorf("fail task: %w", err)
	}
	if !ok {
		return q.repo.GetByID(dbc, task.ID)
	}
	reason := "permanent"
	if retryable {
		reason = "retries_exhausted"
	}
	observability.Current().IncTaskFailed(task.Kind, reason)
	q.log.Error("Generation task failed",
		"task_id", task.ID,
		"learner_id", task.LearnerID,
		"topic_id", task.TopicID,
		"kind", task.Kind,
		"retry_count", task.RetryCount,
		"reason", reason,
		"error", msg,
	)
	task.Status = types.TaskStatusFailed
	task.Error = msg
	task.FinishedAt = &now
	if q.notify != nil {
		q.notify.TaskFailed(dbc.Context(), task, msg)
	}
	return task, nil
}

func (q *generationQueue) Get(dbc dbctx.Context, taskID uuid.UUID) (*types.GenerationTask, error) {
	task, err := q.repo.GetByID(dbc, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, errs.NotFound("generation task", taskID)
	}
	return task, nil
}

func (q *generationQueue) ListActive(dbc dbctx.Context, learnerID, moduleID uuid.UUID) ([]*types.GenerationTask, error) {
	return q.repo.ListActiveByLearnerModule(dbc, learnerID, moduleID)
}

func (q *generationQueue) TouchLearner(dbc dbctx.Context, learnerID uuid.UUID) error {
	_, err := q.repo.TouchLearner(dbc, learnerID, q.cfg.Now(), types.PriorityBackground)
	return err
}

func (q *generationQueue) DemoteStale(dbc dbctx.Context) (int64, error) {
	n, err := q.repo.DemoteIdle(dbc, q.cfg.Now().Add(-q.cfg.StaleQueued), types.PriorityLow)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		observability.Current().AddTasksDemoted(n)
		q.log.Info("Demoted idle queued tasks", "count", n)
	}
	return n, nil
}
