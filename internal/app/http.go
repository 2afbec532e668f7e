package app

import (
	"github.com/yungbote/neurobridge-lifecycle/internal/http"
	httpH "github.com/yungbote/neurobridge-lifecycle/internal/http/handlers"
	"github.com/yungbote/neurobridge-lifecycle/internal/observability"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

type Handlers struct {
	Health    *httpH.HealthHandler
	Lifecycle *httpH.LifecycleHandler
}

func wireHandlers(log *logger.Logger, cfg Config, stores Stores, services Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:    httpH.NewHealthHandler(map[string]httpH.Pinger{"database": stores.Ping}),
		Lifecycle: httpH.NewLifecycleHandler(log, services.Lifecycle, cfg.AwaitTimeout),
	}
}

func wireServer(log *logger.Logger, cfg Config, handlers Handlers, metrics *observability.Metrics) *http.Server {
	serviceName := ""
	if observability.OtelEnabled() {
		serviceName = cfg.ServiceName
	}
	return http.NewServer(http.RouterConfig{
		Log:              log,
		ServiceName:      serviceName,
		Metrics:          metrics,
		LifecycleHandler: handlers.Lifecycle,
		HealthHandler:    handlers.Health,
	})
}
