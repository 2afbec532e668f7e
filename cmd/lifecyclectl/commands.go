package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yungbote/neurobridge-lifecycle/internal/app"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle"
)

// appOpener builds the application the commands run against. The returned
// func releases it.
type appOpener func() (*app.App, func(), error)

func openApp() (*app.App, func(), error) {
	a, err := app.New()
	if err != nil {
		return nil, nil, err
	}
	return a, a.Close, nil
}

func newRootCmd(open appOpener) *cobra.Command {
	root := &cobra.Command{
		Use:           "lifecyclectl",
		Short:         "Operate the virtual content lifecycle",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newPlanCmd(open),
		newDeleteCmd(open),
		newPurgeCmd(open),
		newStatusCmd(open),
		newReadinessCmd(open),
		newTaskCmd(open),
	)
	return root
}

// withLifecycle opens the app for the duration of fn.
func withLifecycle(open appOpener, fn func(a *app.App, uc lifecycle.Usecases) error) error {
	a, release, err := open()
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer release()
	return fn(a, a.Services.Lifecycle)
}

func parseID(name, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return id, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writePlan(path string, plan *lifecycle.DeletionPlan) error {
	b, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func readPlan(path string) (*lifecycle.DeletionPlan, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var plan lifecycle.DeletionPlan
	if err := json.Unmarshal(b, &plan); err != nil {
		return nil, fmt.Errorf("decode plan %s: %w", path, err)
	}
	if plan.DryRun {
		return nil, fmt.Errorf("plan %s is a dry run; re-plan with --out", path)
	}
	return &plan, nil
}
