package synth

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	goopenai "github.com/sashabaranov/go-openai"
	"gorm.io/datatypes"

	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/errs"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

type fakeClient struct {
	text string
	err  error
}

func (f fakeClient) GenerateJSON(context.Context, string, string) (string, error) {
	return f.text, f.err
}
func (f fakeClient) Model() string { return "fake" }

func testUnit() *types.ContentUnit {
	return &types.ContentUnit{
		ID:    uuid.New(),
		Kind:  types.TagEvaluative,
		Title: "quiz",
		Tags:  datatypes.JSONSlice[string]{types.TagInteractive},
		Body:  datatypes.JSON([]byte(`{"q":"2+2"}`)),
	}
}

func TestPassthroughCopiesBody(t *testing.T) {
	unit := testUnit()
	learner := uuid.New()
	raw, err := NewPassthrough().Personalize(context.Background(), unit, LearnerProfile{LearnerID: learner})
	if err != nil {
		t.Fatalf("Personalize: %v", err)
	}
	var out struct {
		ContentUnitID uuid.UUID       `json:"content_unit_id"`
		LearnerID     uuid.UUID       `json:"learner_id"`
		Body          json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.ContentUnitID != unit.ID || out.LearnerID != learner || string(out.Body) != `{"q":"2+2"}` {
		t.Fatalf("unexpected payload %s", raw)
	}
}

func TestOpenAIClassifiesErrors(t *testing.T) {
	log, _ := logger.New("test")
	ctx := context.Background()

	_, err := NewOpenAI(log, fakeClient{err: &goopenai.APIError{HTTPStatusCode: 429}}).Personalize(ctx, testUnit(), LearnerProfile{})
	if !errs.IsRetryable(err) {
		t.Fatalf("429: expected retryable, got %v", err)
	}

	_, err = NewOpenAI(log, fakeClient{err: &goopenai.APIError{HTTPStatusCode: 400}}).Personalize(ctx, testUnit(), LearnerProfile{})
	var ge *errs.GenerationError
	if !errors.As(err, &ge) || ge.Retryable {
		t.Fatalf("400: expected permanent generation error, got %v", err)
	}

	raw, err := NewOpenAI(log, fakeClient{text: `{"title":"Quiz for you"}`}).Personalize(ctx, testUnit(), LearnerProfile{})
	if err != nil {
		t.Fatalf("Personalize: %v", err)
	}
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	if out["model"] != "fake" || out["personalized"] == nil {
		t.Fatalf("unexpected payload %s", raw)
	}
}

func TestRateLimitedHonorsContext(t *testing.T) {
	rl := NewRateLimited(NewPassthrough(), 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := rl.Personalize(ctx, testUnit(), LearnerProfile{}); err == nil {
		t.Fatalf("expected error on cancelled context")
	}
}
