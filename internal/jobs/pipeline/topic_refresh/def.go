package topic_refresh

import (
	"context"

	"github.com/google/uuid"

	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/virtualize"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

type Refresher interface {
	Refresh(ctx context.Context, learnerID, topicID uuid.UUID) (*types.VirtualTopic, virtualize.Outcome, error)
}

type Pipeline struct {
	log    *logger.Logger
	engine Refresher
}

func New(baseLog *logger.Logger, engine Refresher) *Pipeline {
	return &Pipeline{log: baseLog.With("job", "topic_refresh"), engine: engine}
}

func (p *Pipeline) Type() string { return types.TaskKindUpdate }
