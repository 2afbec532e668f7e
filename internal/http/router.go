package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/neurobridge-lifecycle/internal/http/handlers"
	httpMW "github.com/yungbote/neurobridge-lifecycle/internal/http/middleware"
	"github.com/yungbote/neurobridge-lifecycle/internal/observability"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

type RouterConfig struct {
	Log              *logger.Logger
	ServiceName      string
	Metrics          *observability.Metrics
	LifecycleHandler *httpH.LifecycleHandler
	HealthHandler    *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS())

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	lc := r.Group("/internal/lifecycle")
	if h := cfg.LifecycleHandler; h != nil {
		// Learners
		lc.POST("/learners/:learner_id/modules/:module_id/enter", h.EnterModule)
		lc.GET("/learners/:learner_id/modules/:module_id/lookahead", h.GetLookahead)
		lc.DELETE("/learners/:learner_id", h.PurgeLearner)

		// Progress
		lc.POST("/content/:vcu_id/complete", h.CompleteContent)

		// Authoring
		lc.POST("/topics/:topic_id/updated", h.TopicUpdated)
		lc.GET("/topics/:topic_id/readiness", h.TopicReadiness)
		lc.DELETE("/entities/:collection/:id", h.DeleteEntity)

		// Tasks
		lc.GET("/tasks/:id", h.GetTask)
	}

	return r
}
