package testutil

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/neurobridge-lifecycle/internal/data/db"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

var errNoDatabase = errors.New("no test database available")

var (
	dbOnce sync.Once
	gdb    *gorm.DB
	dbErr  error

	logOnce sync.Once
	logg    *logger.Logger
	logErr  error
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg, logErr = logger.New("test")
	})
	if logErr != nil {
		tb.Fatalf("failed to init logger: %v", logErr)
	}
	return logg
}

// DB returns a migrated database handle: postgres when TEST_POSTGRES_DSN is
// set, otherwise a shared in-memory sqlite database. Tests are skipped when
// neither can be opened.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	dbOnce.Do(func() {
		dsn := os.Getenv("TEST_POSTGRES_DSN")
		if dsn == "" {
			gdb, dbErr = db.OpenSQLite(nil, "")
			if dbErr != nil {
				dbErr = fmt.Errorf("%w: %v", errNoDatabase, dbErr)
				return
			}
			dbErr = db.AutoMigrateAll(gdb)
			return
		}

		var err error
		gdb, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
			Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
		})
		if err != nil {
			dbErr = err
			return
		}
		dbErr = db.AutoMigrateAll(gdb)
	})

	if errors.Is(dbErr, errNoDatabase) {
		tb.Skipf("repo integration tests need TEST_POSTGRES_DSN or sqlite: %v", dbErr)
	}
	if dbErr != nil {
		tb.Fatalf("failed to init test db: %v", dbErr)
	}
	return gdb
}

func Tx(tb testing.TB, gdb *gorm.DB) *gorm.DB {
	tb.Helper()
	tx := gdb.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	tb.Cleanup(func() {
		_ = tx.Rollback().Error
	})
	return tx
}
