package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/yungbote/neurobridge-lifecycle/internal/http"
	"github.com/yungbote/neurobridge-lifecycle/internal/observability"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
	"github.com/yungbote/neurobridge-lifecycle/internal/realtime/bus"
)

type App struct {
	Log      *logger.Logger
	Cfg      Config
	Stores   Stores
	Clients  Clients
	Services Services
	Server   *http.Server
	Metrics  *observability.Metrics

	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})
	metrics := observability.Init(log)

	stores, err := wireStores(log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}
	clients, err := wireClients(log, cfg)
	if err != nil {
		stores.Close()
		log.Sync()
		return nil, err
	}
	serviceset, err := wireServices(log, cfg, stores, clients)
	if err != nil {
		clients.Close()
		stores.Close()
		log.Sync()
		return nil, err
	}
	handlers := wireHandlers(log, cfg, stores, serviceset)

	return &App{
		Log:          log,
		Cfg:          cfg,
		Stores:       stores,
		Clients:      clients,
		Services:     serviceset,
		Server:       wireServer(log, cfg, handlers, metrics),
		Metrics:      metrics,
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches the worker pool, the SLO evaluator and the completion-event
// consumer.
func (a *App) Start(ctx context.Context) error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.Metrics.StartSLOEvaluator(ctx, a.Log)
	if a.Cfg.RunWorker && a.Services.Worker != nil {
		a.Services.Worker.Start(ctx)
	}
	if a.Clients.Bus != nil {
		if err := a.Clients.Bus.StartConsumer(ctx, a.onCompletion); err != nil {
			return fmt.Errorf("start completion consumer: %w", err)
		}
	}
	return nil
}

func (a *App) onCompletion(ctx context.Context, ev bus.CompletionEvent) {
	if _, err := a.Services.Lifecycle.OnContentCompleted(ctx, ev.VirtualContentUnitID, ev.Score); err != nil {
		a.Log.Warn("Completion event failed",
			"virtual_content_unit_id", ev.VirtualContentUnitID,
			"error", err,
		)
	}
}

// Run starts background work and serves HTTP until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	addr := ":" + a.Cfg.Port
	a.Log.Info("Serving lifecycle API", "addr", addr)
	return a.Server.Run(ctx, addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Services.Worker != nil {
		a.Services.Worker.Wait()
	}
	a.Clients.Close()
	a.Stores.Close()
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
		cancel()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
