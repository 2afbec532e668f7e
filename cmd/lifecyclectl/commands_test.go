package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-lifecycle/internal/app"
	"github.com/yungbote/neurobridge-lifecycle/internal/data/repos/memstore"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle"
)

func newTestApp(t *testing.T) (*app.App, memstore.Fixture) {
	t.Helper()
	t.Setenv("LOG_MODE", "test")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("MEMSTORE_SEED_TOPICS", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("SYNTH_PROVIDER", "passthrough")
	t.Setenv("RUN_WORKER", "false")
	a, err := app.New()
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(a.Close)
	return a, a.Stores.Mem.SeedCurriculum(2, 1)
}

func run(a *app.App, args ...string) (string, error) {
	open := func() (*app.App, func(), error) { return a, func() {}, nil }
	var out bytes.Buffer
	cmd := newRootCmd(open)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPlanPrintsDryRun(t *testing.T) {
	a, f := newTestApp(t)
	topic := f.Topic(1, 1)

	out, err := run(a, "plan", "topic", topic.ID.String())
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	var plan lifecycle.DeletionPlan
	if err := json.Unmarshal([]byte(out), &plan); err != nil {
		t.Fatalf("decode plan: %v\n%s", err, out)
	}
	if !plan.DryRun || plan.TargetID != topic.ID || len(plan.Steps) == 0 {
		t.Fatalf("unexpected plan %+v", plan)
	}
	if a.Stores.Mem.Count("topic") != 3 {
		t.Fatalf("plan must not delete anything")
	}
}

func TestPlanOutThenDelete(t *testing.T) {
	a, f := newTestApp(t)
	path := filepath.Join(t.TempDir(), "plan.json")

	if _, err := run(a, "plan", "topic", f.Topic(1, 2).ID.String(), "--out", path); err != nil {
		t.Fatalf("plan --out: %v", err)
	}
	if _, err := run(a, "delete", "--plan", path); err != nil {
		t.Fatalf("delete --plan: %v", err)
	}
	if got := a.Stores.Mem.Count("topic"); got != 2 {
		t.Fatalf("expected one topic removed, %d left", got)
	}
}

func TestDeleteResumesAfterPartialFailure(t *testing.T) {
	a, f := newTestApp(t)
	saved := filepath.Join(t.TempDir(), "failed.json")
	a.Stores.Mem.FailDeletes("content_unit", errors.New("connection reset"))

	_, err := run(a, "delete", "topic", f.Topic(2, 1).ID.String(), "--save-plan", saved)
	if err == nil || !strings.Contains(err.Error(), "--from-step") {
		t.Fatalf("expected a resumable failure, got %v", err)
	}
	pf, ok := lifecycle.IsPartialFailure(err)
	if !ok {
		t.Fatalf("expected a partial failure, got %v", err)
	}
	if _, statErr := os.Stat(saved); statErr != nil {
		t.Fatalf("plan was not saved: %v", statErr)
	}
	if a.Stores.Mem.Count("topic") != 3 {
		t.Fatalf("topic removed before its dependents")
	}

	a.Stores.Mem.FailDeletes("content_unit", nil)
	if _, err := run(a, "delete", "--plan", saved, "--from-step", strconv.Itoa(pf.Step)); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if a.Stores.Mem.Count("topic") != 2 {
		t.Fatalf("resume did not finish the cascade")
	}
}

func TestArgumentValidation(t *testing.T) {
	a, _ := newTestApp(t)
	if _, err := run(a, "status", "nope", uuid.NewString()); err == nil || !strings.Contains(err.Error(), "learner_id") {
		t.Fatalf("expected invalid learner_id, got %v", err)
	}
	if _, err := run(a, "delete", "--plan", "x.json", "topic"); err == nil {
		t.Fatalf("--plan with positional args must be rejected")
	}
	dry := filepath.Join(t.TempDir(), "dry.json")
	if err := os.WriteFile(dry, []byte(`{"dry_run":true}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := run(a, "delete", "--plan", dry); err == nil || !strings.Contains(err.Error(), "dry run") {
		t.Fatalf("expected dry-run plan to be refused, got %v", err)
	}
}
