package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
)

// Models lists every table owned by the service, in creation order.
func Models() []interface{} {
	return []interface{}{
		// =========================
		// Authored curriculum (read-only to the lifecycle core)
		// =========================
		&types.Plan{},
		&types.Module{},
		&types.Topic{},
		&types.ContentUnit{},

		// =========================
		// Per-learner virtual mirror
		// =========================
		&types.VirtualModule{},
		&types.VirtualTopic{},
		&types.VirtualContentUnit{},

		// =========================
		// Generation queue
		// =========================
		&types.GenerationTask{},
	}
}

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return err
	}
	return ensureIndexes(db)
}

// At most one queued/running task per idempotency key. Both postgres and sqlite
// support partial unique indexes.
func ensureIndexes(db *gorm.DB) error {
	stmt := `CREATE UNIQUE INDEX IF NOT EXISTS idx_generation_task_active_key
		ON generation_task (idempotency_key)
		WHERE status IN ('queued', 'running')`
	if err := db.Exec(stmt).Error; err != nil {
		return fmt.Errorf("create generation_task active key index: %w", err)
	}
	return nil
}
