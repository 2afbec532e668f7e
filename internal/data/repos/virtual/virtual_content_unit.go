package virtual

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

type VirtualContentUnitRepo interface {
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.VirtualContentUnit, error)
	ListByVirtualTopic(dbc dbctx.Context, virtualTopicID uuid.UUID) ([]*types.VirtualContentUnit, error)
	// MarkCompleted returns false when the unit was already completed.
	MarkCompleted(dbc dbctx.Context, id uuid.UUID, score float64, at time.Time) (bool, error)
	UpdatePayload(dbc dbctx.Context, id uuid.UUID, payload datatypes.JSON) error
}

type virtualContentUnitRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVirtualContentUnitRepo(db *gorm.DB, baseLog *logger.Logger) VirtualContentUnitRepo {
	return &virtualContentUnitRepo{
		db:  db,
		log: baseLog.With("repo", "VirtualContentUnitRepo"),
	}
}

func (r *virtualContentUnitRepo) tx(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Context())
}

func (r *virtualContentUnitRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.VirtualContentUnit, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var out types.VirtualContentUnit
	if err := r.tx(dbc).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *virtualContentUnitRepo) ListByVirtualTopic(dbc dbctx.Context, virtualTopicID uuid.UUID) ([]*types.VirtualContentUnit, error) {
	var out []*types.VirtualContentUnit
	if virtualTopicID == uuid.Nil {
		return out, nil
	}
	if err := r.tx(dbc).
		Where("virtual_topic_id = ?", virtualTopicID).
		Order("position ASC, created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *virtualContentUnitRepo) MarkCompleted(dbc dbctx.Context, id uuid.UUID, score float64, at time.Time) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	res := r.tx(dbc).
		Model(&types.VirtualContentUnit{}).
		Where("id = ? AND completed = ?", id, false).
		Updates(map[string]interface{}{
			"completed":    true,
			"score":        score,
			"completed_at": at,
			"updated_at":   at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *virtualContentUnitRepo) UpdatePayload(dbc dbctx.Context, id uuid.UUID, payload datatypes.JSON) error {
	if id == uuid.Nil {
		return nil
	}
	return r.tx(dbc).
		Model(&types.VirtualContentUnit{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"payload":    payload,
			"updated_at": time.Now().UTC(),
		}).Error
}
