package logger

import (
	"strings"
	"testing"
)

func TestSanitizeKVsHashesLearnerAndRedactsSecrets(t *testing.T) {
	out := sanitizeKVs([]interface{}{
		"learner_id", "0b9a1d4e-0000-4000-8000-000000000001",
		"openai_api_key", "sk-live",
		"topic_id", "t-1",
		"dangling",
	})
	if len(out) != 7 {
		t.Fatalf("expected 7 entries, got %d", len(out))
	}
	if s, _ := out[1].(string); !strings.HasPrefix(s, "hash:") {
		t.Fatalf("learner_id should be hashed, got %v", out[1])
	}
	if out[3] != "[REDACTED]" {
		t.Fatalf("api key should be redacted, got %v", out[3])
	}
	if out[5] != "t-1" {
		t.Fatalf("topic_id should pass through, got %v", out[5])
	}
}
