package app

import (
	"fmt"

	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle/synth"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
	"github.com/yungbote/neurobridge-lifecycle/internal/realtime/bus"
)

type Clients struct {
	// Bus is redis-backed when REDIS_ADDR is set, in-process otherwise.
	Bus   bus.Bus
	Synth synth.ContentSynthesizer
}

func wireClients(log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")

	// Redis
	var b bus.Bus
	if cfg.RedisAddr != "" {
		rb, err := bus.NewRedisBus(log)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis bus: %w", err)
		}
		b = rb
	} else {
		b = bus.NewMemoryBus(log)
	}

	// Synthesizer (passthrough or openai)
	s, err := synth.FromEnv(log)
	if err != nil {
		_ = b.Close()
		return Clients{}, fmt.Errorf("init synthesizer: %w", err)
	}

	return Clients{Bus: b, Synth: s}, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Bus != nil {
		_ = c.Bus.Close()
	}
}
