package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos/store"
	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

type GenerationTaskRepo interface {
	// Create returns store.ErrDuplicate when an active task already holds the idempotency key.
	Create(dbc dbctx.Context, task *types.GenerationTask) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.GenerationTask, error)
	GetActiveByKey(dbc dbctx.Context, key string) (*types.GenerationTask, error)
	ListActiveByLearnerModule(dbc dbctx.Context, learnerID, moduleID uuid.UUID) ([]*types.GenerationTask, error)
	ListByLearner(dbc dbctx.Context, learnerID uuid.UUID) ([]*types.GenerationTask, error)
	// ClaimNext moves the highest-priority runnable task to running. Running tasks whose
	// heartbeat is older than staleBefore are reclaimed.
	ClaimNext(dbc dbctx.Context, now, staleBefore time.Time) (*types.GenerationTask, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID, at time.Time) error
	Finish(dbc dbctx.Context, id uuid.UUID, status, outcome, errMsg string, at time.Time) (bool, error)
	Requeue(dbc dbctx.Context, id uuid.UUID, retryCount int, nextRunAt time.Time, errMsg string, at time.Time) error
	RaisePriority(dbc dbctx.Context, id uuid.UUID, priority int) error
	// TouchLearner records activity on the learner's queued tasks and lifts any
	// below floor back to it.
	TouchLearner(dbc dbctx.Context, learnerID uuid.UUID, at time.Time, floor int) (int64, error)
	DemoteIdle(dbc dbctx.Context, idleBefore time.Time, priority int) (int64, error)
}

type generationTaskRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGenerationTaskRepo(db *gorm.DB, baseLog *logger.Logger) GenerationTaskRepo {
	return &generationTaskRepo{
		db:  db,
		log: baseLog.With("repo", "GenerationTaskRepo"),
	}
}

func (r *generationTaskRepo) tx(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Context())
}

func (r *generationTaskRepo) Create(dbc dbctx.Context, task *types.GenerationTask) error {
	if task == nil {
		return nil
	}
	err := r.tx(dbc).Transaction(func(txx *gorm.DB) error {
		return txx.Create(task).Error
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (r *generationTaskRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.GenerationTask, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var out types.GenerationTask
	if err := r.tx(dbc).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *generationTaskRepo) GetActiveByKey(dbc dbctx.Context, key string) (*types.GenerationTask, error) {
	if key == "" {
		return nil, nil
	}
	var out types.GenerationTask
	if err := r.tx(dbc).
		Where("idempotency_key = ? AND status IN ?", key, []string{types.TaskStatusQueued, types.TaskStatusRunning}).
		Order("created_at DESC").
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *generationTaskRepo) ListActiveByLearnerModule(dbc dbctx.Context, learnerID, moduleID uuid.UUID) ([]*types.GenerationTask, error) {
	var out []*types.GenerationTask
	if learnerID == uuid.Nil || moduleID == uuid.Nil {
		return out, nil
	}
	if err := r.tx(dbc).
		Where("learner_id = ? AND module_id = ? AND status IN ?", learnerID, moduleID, []string{types.TaskStatusQueued, types.TaskStatusRunning}).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *generationTaskRepo) ListByLearner(dbc dbctx.Context, learnerID uuid.UUID) ([]*types.GenerationTask, error) {
	var out []*types.GenerationTask
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

func (r *generationTaskRepo) ClaimNext(dbc dbctx.Context, now, staleBefore time.Time) (*types.GenerationTask, error) {
	var claimed *types.GenerationTask
	err := r.tx(dbc).Transaction(func(txx *gorm.DB) error {
		var task types.GenerationTask
		qErr := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
        (
          (status = ? AND next_run_at <= ?)
          OR (
            status = ?
            AND heartbeat_at IS NOT NULL
            AND heartbeat_at < ?
          )
        )
      `, types.TaskStatusQueued, now, types.TaskStatusRunning, staleBefore).
			Order("priority DESC, created_at ASC").
			First(&task).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.GenerationTask{}).
			Where("id = ?", task.ID).
			Updates(map[string]interface{}{
				"status":       types.TaskStatusRunning,
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		task.Status = types.TaskStatusRunning
		task.LockedAt = &now
		task.HeartbeatAt = &now
		task.UpdatedAt = now
		claimed = &task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *generationTaskRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID, at time.Time) error {
	if id == uuid.Nil {
		return nil
	}
	return r.tx(dbc).
		Model(&types.GenerationTask{}).
		Where("id = ? AND status = ?", id, types.TaskStatusRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": at,
			"updated_at":   at,
		}).Error
}

func (r *generationTaskRepo) Finish(dbc dbctx.Context, id uuid.UUID, status, outcome, errMsg string, at time.Time) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	res := r.tx(dbc).
		Model(&types.GenerationTask{}).
		Where("id = ? AND status NOT IN ?", id, []string{types.TaskStatusDone, types.TaskStatusFailed}).
		Updates(map[string]interface{}{
			"status":      status,
			"outcome":     outcome,
			"error":       errMsg,
			"locked_at":   nil,
			"finished_at": at,
			"updated_at":  at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *generationTaskRepo) Requeue(dbc dbctx.Context, id uuid.UUID, retryCount int, nextRunAt time.Time, errMsg string, at time.Time) error {
	if id == uuid.Nil {
		return nil
	}
	return r.tx(dbc).
		Model(&types.GenerationTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       types.TaskStatusQueued,
			"retry_count":  retryCount,
			"next_run_at":  nextRunAt,
			"error":        errMsg,
			"locked_at":    nil,
			"heartbeat_at": nil,
			"updated_at":   at,
		}).Error
}

func (r *generationTaskRepo) RaisePriority(dbc dbctx.Context, id uuid.UUID, priority int) error {
	if id == uuid.Nil {
		return nil
	}
	return r.tx(dbc).
		Model(&types.GenerationTask{}).
		Where("id = ? AND priority < ?", id, priority).
		Update("priority", priority).Error
}

func (r *generationTaskRepo) TouchLearner(dbc dbctx.Context, learnerID uuid.UUID, at time.Time, floor int) (int64, error) {
	if learnerID == uuid.Nil {
		return 0, nil
	}
	res := r.tx(dbc).
		Model(&types.GenerationTask{}).
		Where("learner_id = ? AND status = ?", learnerID, types.TaskStatusQueued).
		Updates(map[string]interface{}{
			"last_activity_at": at,
			"priority":         gorm.Expr("CASE WHEN priority < ? THEN ? ELSE priority END", floor, floor),
		})
	return res.RowsAffected, res.Error
}

func (r *generationTaskRepo) DemoteIdle(dbc dbctx.Context, idleBefore time.Time, priority int) (int64, error) {
	res := r.tx(dbc).
		Model(&types.GenerationTask{}).
		Where("status = ? AND last_activity_at < ? AND priority > ?", types.TaskStatusQueued, idleBefore, priority).
		Update("priority", priority)
	return res.RowsAffected, res.Error
}
