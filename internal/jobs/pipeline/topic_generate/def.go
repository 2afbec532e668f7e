package topic_generate

import (
	"context"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos"
	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/lookahead"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/virtualize"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

type Materializer interface {
	Materialize(ctx context.Context, learnerID, topicID uuid.UUID) (*types.VirtualTopic, virtualize.Outcome, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, learnerID, moduleID uuid.UUID) (*lookahead.Status, error)
}

type Pipeline struct {
	log       *logger.Logger
	engine    Materializer
	scheduler Reconciler
	modules   repos.VirtualModuleRepo
}

func New(baseLog *logger.Logger, engine Materializer, scheduler Reconciler, modules repos.VirtualModuleRepo) *Pipeline {
	return &Pipeline{
		log:       baseLog.With("job", "topic_generate"),
		engine:    engine,
		scheduler: scheduler,
		modules:   modules,
	}
}

func (p *Pipeline) Type() string { return types.TaskKindGenerate }
