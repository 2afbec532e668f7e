package curriculum

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

// CurriculumRepo is read-only access to the authored hierarchy. Get methods
// return (nil, nil) when the record does not exist.
type CurriculumRepo interface {
	GetPlan(dbc dbctx.Context, id uuid.UUID) (*types.Plan, error)
	GetModule(dbc dbctx.Context, id uuid.UUID) (*types.Module, error)
	GetTopic(dbc dbctx.Context, id uuid.UUID) (*types.Topic, error)
	ListModules(dbc dbctx.Context, planID uuid.UUID) ([]*types.Module, error)
	ListTopics(dbc dbctx.Context, moduleID uuid.UUID) ([]*types.Topic, error)
	ListReadyTopics(dbc dbctx.Context, moduleID uuid.UUID) ([]*types.Topic, error)
	ListContentUnits(dbc dbctx.Context, topicID uuid.UUID) ([]*types.ContentUnit, error)
}

type curriculumRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCurriculumRepo(db *gorm.DB, baseLog *logger.Logger) CurriculumRepo {
	return &curriculumRepo{
		db:  db,
		log: baseLog.With("repo", "CurriculumRepo"),
	}
}

func (r *curriculumRepo) tx(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Context())
}

func (r *curriculumRepo) GetPlan(dbc dbctx.Context, id uuid.UUID) (*types.Plan, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var out types.Plan
	if err := r.tx(dbc).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *curriculumRepo) GetModule(dbc dbctx.Context, id uuid.UUID) (*types.Module, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var out types.Module
	if err := r.tx(dbc).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *curriculumRepo) GetTopic(dbc dbctx.Context, id uuid.UUID) (*types.Topic, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var out types.Topic
	if err := r.tx(dbc).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *curriculumRepo) ListModules(dbc dbctx.Context, planID uuid.UUID) ([]*types.Module, error) {
	var out []*types.Module
	if planID == uuid.Nil {
		return out, nil
	}
	if err := r.tx(dbc).
		Where("plan_id = ?", planID).
		Order("position ASC, created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *curriculumRepo) ListTopics(dbc dbctx.Context, moduleID uuid.UUID) ([]*types.Topic, error) {
	var out []*types.Topic
	if moduleID == uuid.Nil {
		return out, nil
	}
	if err := r.tx(dbc).
		Where("module_id = ?", moduleID).
		Order("position ASC, created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *curriculumRepo) ListReadyTopics(dbc dbctx.Context, moduleID uuid.UUID) ([]*types.Topic, error) {
	var out []*types.Topic
	if moduleID == uuid.Nil {
		return out, nil
	}
	if err := r.tx(dbc).
		Where("module_id = ? AND ready = ?", moduleID, true).
		Order("position ASC, created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *curriculumRepo) ListContentUnits(dbc dbctx.Context, topicID uuid.UUID) ([]*types.ContentUnit, error) {
	var out []*types.ContentUnit
	if topicID == uuid.Nil {
		return out, nil
	}
	if err := r.tx(dbc).
		Where("topic_id = ?", topicID).
		Order("position ASC, created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
