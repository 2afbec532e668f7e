package lookahead

import "github.com/yungbote/neurobridge-lifecycle/internal/platform/envutil"

type Config struct {
	// TopicBuffer is how many topics are kept materialized or queued strictly
	// ahead of the learner's effective position.
	TopicBuffer int
	// ModuleWindow counts the current module, so 2 means one module ahead.
	ModuleWindow int
	// AdvancePct moves the effective position past a topic that is nearly done.
	AdvancePct float64
	// ModulePrimePct is the module progress that primes the next module.
	ModulePrimePct float64
}

func DefaultConfig() Config {
	return Config{TopicBuffer: 2, ModuleWindow: 2, AdvancePct: 80, ModulePrimePct: 80}
}

func ConfigFromEnv() Config {
	d := DefaultConfig()
	return Config{
		TopicBuffer:    envutil.IntRange("LOOKAHEAD_TOPIC_BUFFER", d.TopicBuffer, 1, 10),
		ModuleWindow:   envutil.IntRange("LOOKAHEAD_MODULE_WINDOW", d.ModuleWindow, 1, 5),
		AdvancePct:     envutil.Float("LOOKAHEAD_ADVANCE_PCT", d.AdvancePct),
		ModulePrimePct: envutil.Float("LOOKAHEAD_MODULE_PRIME_PCT", d.ModulePrimePct),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TopicBuffer <= 0 {
		c.TopicBuffer = d.TopicBuffer
	}
	if c.ModuleWindow <= 0 {
		c.ModuleWindow = d.ModuleWindow
	}
	if c.AdvancePct <= 0 || c.AdvancePct > 100 {
		c.AdvancePct = d.AdvancePct
	}
	if c.ModulePrimePct <= 0 || c.ModulePrimePct > 100 {
		c.ModulePrimePct = d.ModulePrimePct
	}
	return c
}
