package virtual

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

type VirtualModuleRepo interface {
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.VirtualModule, error)
	GetByLearnerModule(dbc dbctx.Context, learnerID, moduleID uuid.UUID) (*types.VirtualModule, error)
	ListByLearner(dbc dbctx.Context, learnerID uuid.UUID) ([]*types.VirtualModule, error)
	UpdateStatus(dbc dbctx.Context, id uuid.UUID, status string) error
	UpdateProgress(dbc dbctx.Context, id uuid.UUID, progress float64, status string, completedAt *time.Time) error
}

type virtualModuleRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVirtualModuleRepo(db *gorm.DB, baseLog *logger.Logger) VirtualModuleRepo {
	return &virtualModuleRepo{
		db:  db,
		log: baseLog.With("repo", "VirtualModuleRepo"),
	}
}

func (r *virtualModuleRepo) tx(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Context())
}

func (r *virtualModuleRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.VirtualModule, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var out types.VirtualModule
	if err := r.tx(dbc).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *virtualModuleRepo) GetByLearnerModule(dbc dbctx.Context, learnerID, moduleID uuid.UUID) (*types.VirtualModule, error) {
	if learnerID == uuid.Nil || moduleID == uuid.Nil {
		return nil, nil
	}
	var out types.VirtualModule
	if err := r.tx(dbc).
		Where("learner_id = ? AND module_id = ?", learnerID, moduleID).
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *virtualModuleRepo) ListByLearner(dbc dbctx.Context, learnerID uuid.UUID) ([]*types.VirtualModule, error) {
	var out []*types.VirtualModule
	if learnerID == uuid.Nil {
		return out, nil
	}
	if err := r.tx(dbc).
		Where("learner_id = ?", learnerID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *virtualModuleRepo) UpdateStatus(dbc dbctx.Context, id uuid.UUID, status string) error {
	if id == uuid.Nil {
		return nil
	}
	return r.tx(dbc).
		Model(&types.VirtualModule{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *virtualModuleRepo) UpdateProgress(dbc dbctx.Context, id uuid.UUID, progress float64, status string, completedAt *time.Time) error {
	if id == uuid.Nil {
		return nil
	}
	updates := map[string]interface{}{
		"progress":     progress,
		"completed_at": completedAt,
		"updated_at":   time.Now().UTC(),
	}
	if status != "" {
		updates["status"] = status
	}
	return r.tx(dbc).
		Model(&types.VirtualModule{}).
		Where("id = ?", id).
		Updates(updates).Error
}
