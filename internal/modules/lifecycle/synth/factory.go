package synth

import (
	"fmt"
	"strings"

	"github.com/yungbote/neurobridge-lifecycle/internal/clients/openai"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/envutil"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

// FromEnv builds the synthesizer selected by SYNTH_PROVIDER (passthrough|openai).
func FromEnv(log *logger.Logger) (ContentSynthesizer, error) {
	provider := strings.ToLower(envutil.String("SYNTH_PROVIDER", "passthrough"))
	switch provider {
	case "passthrough", "none":
		return NewPassthrough(), nil
	case "openai":
		client, err := openai.NewClient(log)
		if err != nil {
			return nil, err
		}
		burst := envutil.IntRange("SYNTH_CONCURRENCY", 4, 1, 64)
		return NewRateLimited(NewOpenAI(log, client), envutil.Float("SYNTH_RATE_PER_SEC", 5), burst), nil
	default:
		return nil, fmt.Errorf("unknown SYNTH_PROVIDER %q", provider)
	}
}
