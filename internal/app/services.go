package app

import (
	"fmt"

	"github.com/yungbote/neurobridge-lifecycle/internal/jobs/pipeline/topic_generate"
	"github.com/yungbote/neurobridge-lifecycle/internal/jobs/pipeline/topic_refresh"
	jobruntime "github.com/yungbote/neurobridge-lifecycle/internal/jobs/runtime"
	"github.com/yungbote/neurobridge-lifecycle/internal/jobs/worker"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/cascade"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/graph"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/lookahead"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/progress"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/readiness"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/virtualize"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
	"github.com/yungbote/neurobridge-lifecycle/internal/realtime/bus"
	"github.com/yungbote/neurobridge-lifecycle/internal/services"
)

type Services struct {
	Notifier *bus.TaskNotifier
	Queue    services.GenerationQueue

	// Lifecycle core
	Registry  *graph.Registry
	Readiness *readiness.Evaluator
	Engine    *virtualize.Engine
	Scheduler *lookahead.Scheduler
	Tracker   *progress.Tracker
	Planner   *cascade.Planner
	Executor  *cascade.Executor
	Lifecycle lifecycle.Usecases

	// Job infra
	JobRegistry *jobruntime.Registry
	Worker      *worker.Worker
}

func wireServices(log *logger.Logger, cfg Config, stores Stores, clients Clients) (Services, error) {
	log.Info("Wiring services...")
	set := stores.Repos

	registry, err := graph.Load()
	if err != nil {
		return Services{}, fmt.Errorf("load dependency registry: %w", err)
	}

	notifier := bus.NewTaskNotifier(clients.Bus, log)
	queue := services.NewGenerationQueue(log, set.Tasks, notifier, cfg.Queue)
	ready := readiness.New(set.Curriculum)

	engine := virtualize.New(virtualize.EngineDeps{
		Log:         log,
		Repos:       set,
		Readiness:   ready,
		Synth:       clients.Synth,
		Concurrency: cfg.EngineConcurrency,
	})
	scheduler := lookahead.New(lookahead.Deps{
		Log:       log,
		Repos:     set,
		Readiness: ready,
		Modules:   engine,
		Queue:     queue,
		Notify:    notifier,
		Config:    cfg.Lookahead,
	})
	tracker := progress.New(progress.Deps{
		Log:            log,
		Repos:          set,
		Scheduler:      scheduler,
		Activity:       queue,
		AdvancePct:     cfg.Lookahead.AdvancePct,
		ModulePrimePct: cfg.Lookahead.ModulePrimePct,
	})
	planner := cascade.NewPlanner(cascade.PlannerDeps{
		Log:            log,
		Registry:       registry,
		Store:          set.Store,
		Notify:         notifier,
		VirtualModules: set.VirtualModules,
		Tasks:          set.Tasks,
	})
	executor := cascade.NewExecutor(log, set.Store)

	uc := lifecycle.New(lifecycle.UsecasesDeps{
		Log:       log,
		Repos:     set,
		Readiness: ready,
		Scheduler: scheduler,
		Tracker:   tracker,
		Queue:     queue,
		Planner:   planner,
		Executor:  executor,
	})

	jobRegistry := jobruntime.NewRegistry()
	if err := jobRegistry.Register(topic_generate.New(log, engine, scheduler, set.VirtualModules)); err != nil {
		return Services{}, fmt.Errorf("register %s: %w", "topic_generate", err)
	}
	if err := jobRegistry.Register(topic_refresh.New(log, engine)); err != nil {
		return Services{}, fmt.Errorf("register %s: %w", "topic_refresh", err)
	}
	log.Info("Job handlers registered", "kinds", jobRegistry.Kinds())

	return Services{
		Notifier:    notifier,
		Queue:       queue,
		Registry:    registry,
		Readiness:   ready,
		Engine:      engine,
		Scheduler:   scheduler,
		Tracker:     tracker,
		Planner:     planner,
		Executor:    executor,
		Lifecycle:   uc,
		JobRegistry: jobRegistry,
		Worker:      worker.NewWorker(log, queue, jobRegistry, cfg.Worker),
	}, nil
}
