package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-lifecycle/internal/data/db"
	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos"
	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos/memstore"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

// Stores is the persistence chosen by STORE_DRIVER. DB is nil for the memory
// driver and Mem is nil otherwise.
type Stores struct {
	Repos repos.Set
	DB    *gorm.DB
	Mem   *memstore.Store
}

func wireStores(log *logger.Logger, cfg Config) (Stores, error) {
	log.Info("Wiring repos...", "store_driver", cfg.StoreDriver)

	switch cfg.StoreDriver {
	case StoreDriverMemory:
		mem := memstore.New()
		if len(cfg.SeedTopics) > 0 {
			f := mem.SeedCurriculum(cfg.SeedTopics...)
			log.Info("Seeded memory curriculum", "plan_id", f.Plan.ID, "modules", len(f.Modules))
		}
		return Stores{Repos: mem.Set(), Mem: mem}, nil

	case StoreDriverSQLite:
		gdb, err := db.OpenSQLite(log, cfg.SQLitePath)
		if err != nil {
			return Stores{}, err
		}
		if err := db.AutoMigrateAll(gdb); err != nil {
			return Stores{}, fmt.Errorf("sqlite automigrate: %w", err)
		}
		return Stores{Repos: repos.NewSet(gdb, log), DB: gdb}, nil

	default:
		pg, err := db.NewPostgresService(log, cfg.Postgres)
		if err != nil {
			return Stores{}, fmt.Errorf("init postgres: %w", err)
		}
		if err := pg.AutoMigrateAll(); err != nil {
			return Stores{}, fmt.Errorf("postgres automigrate: %w", err)
		}
		return Stores{Repos: repos.NewSet(pg.DB(), log), DB: pg.DB()}, nil
	}
}

// Ping reports whether the SQL database answers. The memory store always does.
func (s Stores) Ping(ctx context.Context) error {
	if s.DB == nil {
		return nil
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s Stores) Close() {
	if s.DB == nil {
		return
	}
	if sqlDB, err := s.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
