package virtual

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

type VirtualTopicRepo interface {
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.VirtualTopic, error)
	GetByLearnerTopic(dbc dbctx.Context, learnerID, topicID uuid.UUID) (*types.VirtualTopic, error)
	ListByVirtualModule(dbc dbctx.Context, virtualModuleID uuid.UUID) ([]*types.VirtualTopic, error)
	ListByTopic(dbc dbctx.Context, topicID uuid.UUID) ([]*types.VirtualTopic, error)
	UpdateLock(dbc dbctx.Context, id uuid.UUID, lock string) error
	UpdateProgress(dbc dbctx.Context, id uuid.UUID, progress float64, completedAt *time.Time) error
}

type virtualTopicRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVirtualTopicRepo(db *gorm.DB, baseLog *logger.Logger) VirtualTopicRepo {
	return &virtualTopicRepo{
		db:  db,
		log: baseLog.With("repo", "VirtualTopicRepo"),
	}
}

func (r *virtualTopicRepo) tx(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Context())
}

func (r *virtualTopicRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.VirtualTopic, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var out types.VirtualTopic
	if err := r.tx(dbc).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *virtualTopicRepo) GetByLearnerTopic(dbc dbctx.Context, learnerID, topicID uuid.UUID) (*types.VirtualTopic, error) {
	if learnerID == uuid.Nil || topicID == uuid.Nil {
		return nil, nil
	}
	var out types.VirtualTopic
	if err := r.tx(dbc).
		Where("learner_id = ? AND topic_id = ?", learnerID, topicID).
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *virtualTopicRepo) ListByVirtualModule(dbc dbctx.Context, virtualModuleID uuid.UUID) ([]*types.VirtualTopic, error) {
	var out []*types.VirtualTopic
	if virtualModuleID == uuid.Nil {
		return out, nil
	}
	if err := r.tx(dbc).
		Where("virtual_module_id = ?", virtualModuleID).
		Order("position ASC, created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *virtualTopicRepo) ListByTopic(dbc dbctx.Context, topicID uuid.UUID) ([]*types.VirtualTopic, error) {
	var out []*types.VirtualTopic
	if topicID == uuid.Nil {
		return out, nil
	}
	if err := r.tx(dbc).
		Where("topic_id = ?", topicID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *virtualTopicRepo) UpdateLock(dbc dbctx.Context, id uuid.UUID, lock string) error {
	if id == uuid.Nil {
		return nil
	}
	return r.tx(dbc).
		Model(&types.VirtualTopic{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"lock_state": lock,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *virtualTopicRepo) UpdateProgress(dbc dbctx.Context, id uuid.UUID, progress float64, completedAt *time.Time) error {
	if id == uuid.Nil {
		return nil
	}
	return r.tx(dbc).
		Model(&types.VirtualTopic{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"progress":     progress,
			"completed_at": completedAt,
			"updated_at":   time.Now().UTC(),
		}).Error
}
