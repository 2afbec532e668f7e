// Package synth personalizes authored content units for a learner. The core
// treats the produced payload as opaque.
package synth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
	"github.com/yungbote/neurobridge-lifecycle/internal/observability"
)

type LearnerProfile struct {
	LearnerID uuid.UUID         `json:"learner_id"`
	Locale    string            `json:"locale,omitempty"`
	Level     string            `json:"level,omitempty"`
	Traits    map[string]string `json:"traits,omitempty"`
}

type ContentSynthesizer interface {
	Personalize(ctx context.Context, unit *types.ContentUnit, profile LearnerProfile) (datatypes.JSON, error)
}

// Passthrough copies the authored unit into the virtual payload unchanged.
type Passthrough struct{}

func NewPassthrough() Passthrough { return Passthrough{} }

func (Passthrough) Personalize(ctx context.Context, unit *types.ContentUnit, profile LearnerProfile) (datatypes.JSON, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	raw, err := json.Marshal(basePayload(unit, profile))
	observability.Current().ObserveSynth("passthrough", statusOf(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func basePayload(unit *types.ContentUnit, profile LearnerProfile) map[string]any {
	body := json.RawMessage("null")
	if len(unit.Body) > 0 {
		body = json.RawMessage(unit.Body)
	}
	return map[string]any{
		"content_unit_id": unit.ID,
		"kind":            unit.Kind,
		"title":           unit.Title,
		"tags":            []string(unit.Tags),
		"body":            body,
		"learner_id":      profile.LearnerID,
	}
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
