package runtime

import (
	"context"
	"errors"

	"github.com/yungbote/neurobridge-lifecycle/internal/domain"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/errs"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
	"github.com/yungbote/neurobridge-lifecycle/internal/services"
)

/*
The execution contract between the generation queue and pipeline code.
runtime.Context is the handle for a single claimed task. It wraps:
  - the request-scoped context (cancelled on worker shutdown),
  - the claimed generation_task row,
  - the only sanctioned ways to report liveness or finish the task.

Pipelines never call the queue directly. Exactly one of Succeed/Fail takes
effect; later calls are ignored.
*/
type Context struct {
	Ctx   context.Context
	Task  *domain.GenerationTask
	Queue services.GenerationQueue
	Log   *logger.Logger

	// LastMessage is the message of the latest Progress call.
	LastMessage string
	finished    bool
}

func NewContext(ctx context.Context, task *domain.GenerationTask, queue services.GenerationQueue, log *logger.Logger) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	c := &Context{Ctx: ctx, Task: task, Queue: queue, Log: log}
	if task != nil {
		c.Ctx = ctxutil.WithTraceData(ctx, &ctxutil.TraceData{RequestID: task.ID.String()})
	}
	return c
}

func (c *Context) dbc() dbctx.Context { return dbctx.New(c.Ctx) }

// Finished reports whether Succeed or Fail already took effect.
func (c *Context) Finished() bool { return c != nil && c.finished }

/*
Progress records that the task is still alive. It refreshes the task heartbeat so
stale-running reclaim does not hand the task to another worker.
*/
func (c *Context) Progress(stage string, msg string) {
	if c == nil || c.finished || c.Task == nil {
		return
	}
	c.LastMessage = msg
	if c.Queue != nil {
		if err := c.Queue.Heartbeat(c.dbc(), c.Task.ID); err != nil && c.Log != nil {
			c.Log.Warn("Task heartbeat failed", "task_id", c.Task.ID, "stage", stage, "error", err)
		}
	}
	if c.Log != nil {
		c.Log.Debug("Task progress", "task_id", c.Task.ID, "stage", stage, "message", msg)
	}
}

/*
Fail hands the task back to the queue as failed. Retryable causes re-queue with
backoff until the retry budget is spent; anything else is terminal.
*/
func (c *Context) Fail(stage string, err error) {
	if c == nil || c.finished || c.Task == nil {
		return
	}
	c.finished = true
	retryable := Retryable(err)
	if c.Queue == nil {
		return
	}
	// the task must be released even when the run context is already cancelled
	dbc := dbctx.New(context.WithoutCancel(c.Ctx))
	after, qerr := c.Queue.MarkFailed(dbc, c.Task.ID, err, retryable)
	if qerr != nil {
		if c.Log != nil {
			c.Log.Error("MarkFailed failed", "task_id", c.Task.ID, "stage", stage, "error", qerr)
		}
		return
	}
	if after != nil {
		c.Task = after
	}
	if c.Log != nil {
		c.Log.Warn("Task failed",
			"task_id", c.Task.ID,
			"kind", c.Task.Kind,
			"stage", stage,
			"retryable", retryable,
			"status", c.Task.Status,
			"retry_count", c.Task.RetryCount,
			"error", err,
		)
	}
}

// Succeed marks the task done with a short outcome label.
func (c *Context) Succeed(outcome string, result map[string]any) {
	if c == nil || c.finished || c.Task == nil {
		return
	}
	c.finished = true
	if c.Queue != nil {
		if err := c.Queue.MarkDone(dbctx.New(context.WithoutCancel(c.Ctx)), c.Task.ID, outcome); err != nil {
			if c.Log != nil {
				c.Log.Error("MarkDone failed", "task_id", c.Task.ID, "error", err)
			}
			return
		}
	}
	c.Task.Status = domain.TaskStatusDone
	c.Task.Outcome = outcome
	if c.Log != nil {
		kv := []interface{}{"task_id", c.Task.ID, "kind", c.Task.Kind, "outcome", outcome}
		for k, v := range result {
			kv = append(kv, k, v)
		}
		c.Log.Info("Task done", kv...)
	}
}

// Retryable classifies a pipeline error. Generation errors carry their own flag;
// missing records and bad input never get better on retry; everything else
// (store hiccups, shutdown) is retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var ge *errs.GenerationError
	if errors.As(err, &ge) {
		return ge.Retryable
	}
	if errors.Is(err, errs.ErrNotFound) || errors.Is(err, errs.ErrInvalidArgument) {
		return false
	}
	return true
}
