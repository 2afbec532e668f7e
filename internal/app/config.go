package app

import (
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/neurobridge-lifecycle/internal/data/db"
	"github.com/yungbote/neurobridge-lifecycle/internal/jobs/worker"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/lookahead"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/envutil"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
	"github.com/yungbote/neurobridge-lifecycle/internal/services"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
	StoreDriverMemory   = "memory"
)

type Config struct {
	Port        string
	ServiceName string
	Environment string
	Version     string

	StoreDriver string
	Postgres    db.PostgresConfig
	SQLitePath  string
	// SeedTopics seeds the memory store with one module per entry.
	SeedTopics []int

	RedisAddr string

	Lookahead         lookahead.Config
	Queue             services.QueueConfig
	Worker            worker.Config
	RunWorker         bool
	EngineConcurrency int
	AwaitTimeout      time.Duration
}

func LoadConfig(log *logger.Logger) Config {
	driver := strings.ToLower(envutil.String("STORE_DRIVER", StoreDriverPostgres))
	switch driver {
	case StoreDriverPostgres, StoreDriverSQLite, StoreDriverMemory:
	default:
		log.Warn("Unknown STORE_DRIVER, using postgres", "store_driver", driver)
		driver = StoreDriverPostgres
	}

	cfg := Config{
		Port:        envutil.String("PORT", "8080"),
		ServiceName: envutil.String("OTEL_SERVICE_NAME", "neurobridge-lifecycle"),
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", "dev"),
		StoreDriver: driver,
		Postgres: db.PostgresConfig{
			Host:     envutil.String("POSTGRES_HOST", "localhost"),
			Port:     envutil.String("POSTGRES_PORT", "5432"),
			User:     envutil.String("POSTGRES_USER", "postgres"),
			Password: envutil.String("POSTGRES_PASSWORD", ""),
			Name:     envutil.String("POSTGRES_NAME", "neurobridge"),
		},
		SQLitePath:        envutil.String("SQLITE_PATH", "lifecycle.db"),
		SeedTopics:        seedTopics(envutil.List("MEMSTORE_SEED_TOPICS")),
		RedisAddr:         envutil.String("REDIS_ADDR", ""),
		Lookahead:         lookahead.ConfigFromEnv(),
		Queue:             services.QueueConfigFromEnv(),
		Worker:            worker.ConfigFromEnv(),
		RunWorker:         envutil.Bool("RUN_WORKER", true),
		EngineConcurrency: envutil.IntRange("SYNTH_CONCURRENCY", 4, 1, 64),
		AwaitTimeout:      envutil.Seconds("ENTER_AWAIT_TIMEOUT_SECONDS", 30*time.Second),
	}
	log.Info("Config loaded",
		"store_driver", cfg.StoreDriver,
		"port", cfg.Port,
		"redis", cfg.RedisAddr != "",
		"run_worker", cfg.RunWorker,
		"worker_concurrency", cfg.Worker.Concurrency,
		"topic_buffer", cfg.Lookahead.TopicBuffer,
	)
	return cfg
}

func seedTopics(vals []string) []int {
	var out []int
	for _, v := range vals {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			out = append(out, n)
		}
	}
	return out
}
