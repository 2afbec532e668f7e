package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/neurobridge-lifecycle/internal/domain"
	"github.com/yungbote/neurobridge-lifecycle/internal/jobs/runtime"
	"github.com/yungbote/neurobridge-lifecycle/internal/observability"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/envutil"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/errs"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
	"github.com/yungbote/neurobridge-lifecycle/internal/services"
)

type Config struct {
	Concurrency int
	Poll        time.Duration
	// DemoteEvery is the interval of the stale-queued demotion sweep; zero disables it.
	DemoteEvery time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		Concurrency: envutil.IntRange("WORKER_CONCURRENCY", 4, 1, 256),
		Poll:        time.Duration(envutil.IntRange("WORKER_POLL_MS", 1000, 10, 60000)) * time.Millisecond,
		DemoteEvery: envutil.Seconds("WORKER_DEMOTE_INTERVAL_SECONDS", time.Minute),
	}
}

type Worker struct {
	log      *logger.Logger
	queue    services.GenerationQueue
	registry *runtime.Registry
	cfg      Config
	wg       sync.WaitGroup
}

func NewWorker(baseLog *logger.Logger, queue services.GenerationQueue, registry *runtime.Registry, cfg Config) *Worker {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Poll <= 0 {
		cfg.Poll = time.Second
	}
	return &Worker{
		log:      baseLog.With("component", "GenerationWorker"),
		queue:    queue,
		registry: registry,
		cfg:      cfg,
	}
}

// Start launches the pool and the demotion sweep. They stop when ctx is done;
// Wait blocks until they have.
func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Starting generation worker pool",
		"concurrency", w.cfg.Concurrency,
		"poll", w.cfg.Poll,
		"kinds", w.registry.Kinds(),
	)
	for i := 0; i < w.cfg.Concurrency; i++ {
		workerID := i + 1
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.runLoop(ctx, workerID)
		}()
	}
	if w.cfg.DemoteEvery > 0 {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.demoteLoop(ctx)
		}()
	}
}

func (w *Worker) Wait() { w.wg.Wait() }

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.cfg.Poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			// keep claiming while there is work so a backlog does not wait a tick per task
			for ctx.Err() == nil {
				ran, err := w.RunOnce(ctx)
				if err != nil {
					w.log.Warn("Claim failed", "worker_id", workerID, "error", err)
					break
				}
				if !ran {
					break
				}
			}
		}
	}
}

func (w *Worker) demoteLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.DemoteEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.queue.DemoteStale(dbctx.New(ctx))
			if err != nil {
				w.log.Warn("Demote stale tasks failed", "error", err)
				continue
			}
			if n > 0 {
				w.log.Info("Demoted idle learners' tasks", "count", n)
			}
		}
	}
}

// RunOnce claims the next runnable task and runs it to completion. It reports
// whether a task was claimed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	task, err := w.queue.DequeueNext(dbctx.New(ctx))
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}
	w.run(ctx, task)
	return true, nil
}

func (w *Worker) run(ctx context.Context, task *domain.GenerationTask) {
	ctx, span := observability.StartSpan(ctx, "lifecycle.task."+task.Kind,
		attribute.String("task_id", task.ID.String()),
		attribute.Int("retry_count", task.RetryCount),
	)
	defer span.End()

	start := time.Now()
	jc := runtime.NewContext(ctx, task, w.queue, w.log.With("kind", task.Kind))
	defer func() {
		observability.Current().ObserveTask(task.Kind, jc.Task.Status, time.Since(start))
	}()

	h, ok := w.registry.Get(task.Kind)
	if !ok {
		w.log.Warn("No handler registered for task kind", "task_id", task.ID, "kind", task.Kind)
		jc.Fail("dispatch", errs.Permanent(&missingHandlerError{Kind: task.Kind}))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Task handler panic", "task_id", task.ID, "kind", task.Kind, "panic", r)
			jc.Fail("panic", errs.Permanent(&panicError{Val: r}))
		}
	}()
	err := h.Run(jc)
	if jc.Finished() {
		return
	}
	// pipelines normally finish the task themselves
	if err != nil {
		span.RecordError(err)
		jc.Fail("run", err)
		return
	}
	jc.Succeed("done", nil)
}

type missingHandlerError struct{ Kind string }

func (e *missingHandlerError) Error() string { return "no handler registered for kind=" + e.Kind }

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }
