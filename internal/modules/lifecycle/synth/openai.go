package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/yungbote/neurobridge-lifecycle/internal/clients/openai"
	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
	"github.com/yungbote/neurobridge-lifecycle/internal/observability"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/errs"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

const personalizeSystemPrompt = `You adapt one unit of course content for a specific learner.
Keep every fact, exercise and answer key intact. Adjust tone, examples and difficulty to the
learner profile. Reply with a single JSON object: {"title": string, "body": object, "notes": string}.`

// OpenAI personalizes through a chat completion. Rate limits and server
// errors come back as retryable generation errors.
type OpenAI struct {
	log    *logger.Logger
	client openai.Client
}

func NewOpenAI(log *logger.Logger, client openai.Client) *OpenAI {
	return &OpenAI{log: log.With("service", "OpenAISynthesizer"), client: client}
}

func (s *OpenAI) Personalize(ctx context.Context, unit *types.ContentUnit, profile LearnerProfile) (datatypes.JSON, error) {
	user, err := json.Marshal(map[string]any{
		"unit":    basePayload(unit, profile),
		"profile": profile,
	})
	if err != nil {
		return nil, errs.Permanent(err)
	}

	start := time.Now()
	text, err := s.client.GenerateJSON(ctx, personalizeSystemPrompt, string(user))
	observability.Current().ObserveSynth("openai", statusOf(err), time.Since(start))
	if err != nil {
		if openai.IsRetryable(err) {
			return nil, errs.Retryable(err)
		}
		return nil, errs.Permanent(err)
	}

	var generated map[string]any
	if err := json.Unmarshal([]byte(text), &generated); err != nil {
		// malformed model output is usually transient
		return nil, errs.Retryable(fmt.Errorf("decode personalized unit: %w", err))
	}
	payload := basePayload(unit, profile)
	payload["personalized"] = generated
	payload["model"] = s.client.Model()
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.Permanent(err)
	}
	return datatypes.JSON(raw), nil
}
