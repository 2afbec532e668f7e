package bus

import (
	"context"
	"time"

	"github.com/google/uuid"

	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

// TaskNotifier publishes lifecycle notices for terminal task failures and
// cascade planning anomalies.
type TaskNotifier struct {
	bus Bus
	log *logger.Logger
}

func NewTaskNotifier(b Bus, log *logger.Logger) *TaskNotifier {
	return &TaskNotifier{bus: b, log: log.With("service", "TaskNotifier")}
}

func (n *TaskNotifier) TaskFailed(ctx context.Context, task *types.GenerationTask, cause string) {
	if n == nil || n.bus == nil || task == nil {
		return
	}
	n.publish(ctx, Notice{
		Type:      NoticeTaskFailed,
		LearnerID: task.LearnerID,
		ModuleID:  task.ModuleID,
		TopicID:   task.TopicID,
		TaskID:    task.ID,
		Message:   cause,
	})
}

func (n *TaskNotifier) EmptyCollection(ctx context.Context, collection string) {
	if n == nil || n.bus == nil {
		return
	}
	n.publish(ctx, Notice{Type: NoticeEmptyCollection, Collection: collection})
}

func (n *TaskNotifier) publish(ctx context.Context, notice Notice) {
	notice.At = time.Now().UTC()
	if err := n.bus.PublishNotice(ctx, notice); err != nil {
		n.log.Warn("publish notice failed", "type", notice.Type, "error", err)
	}
}

func (n *TaskNotifier) WaitingForAuthor(ctx context.Context, learnerID, moduleID uuid.UUID) {
	if n == nil || n.bus == nil {
		return
	}
	n.publish(ctx, Notice{Type: NoticeWaitingForAuthor, LearnerID: learnerID, ModuleID: moduleID})
}
