package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yungbote/neurobridge-lifecycle/internal/app"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle"
)

func newPlanCmd(open appOpener) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "plan <collection> <id>",
		Short: "Show what deleting an entity would remove",
		Long: `Plans the cascade for collection/id without deleting anything.
With --out the plan is written to a file that "delete --plan" can execute.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("id", args[1])
			if err != nil {
				return err
			}
			return withLifecycle(open, func(a *app.App, _ lifecycle.Usecases) error {
				plan, err := a.Services.Planner.Plan(cmd.Context(), args[0], id, out == "")
				if err != nil {
					return err
				}
				if out != "" {
					if err := writePlan(out, plan); err != nil {
						return fmt.Errorf("write plan: %w", err)
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "plan with %d steps written to %s\n", len(plan.Steps), out)
				}
				return printJSON(cmd.OutOrStdout(), plan)
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "write an executable plan to this file")
	return cmd
}

func newDeleteCmd(open appOpener) *cobra.Command {
	var (
		dryRun   bool
		planPath string
		fromStep int
		savePlan string
	)
	cmd := &cobra.Command{
		Use:   "delete [<collection> <id>]",
		Short: "Delete an entity and everything that depends on it",
		Long: `Deletes collection/id with its full cascade, or executes a saved plan
with --plan. After a partial failure the plan is saved (see --save-plan) and
the command prints the step to resume from with --from-step.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if planPath != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLifecycle(open, func(_ *app.App, uc lifecycle.Usecases) error {
				var (
					res *lifecycle.DeletionResult
					err error
				)
				if planPath != "" {
					plan, perr := readPlan(planPath)
					if perr != nil {
						return perr
					}
					res, err = uc.ResumeDeletion(cmd.Context(), plan, fromStep)
				} else {
					id, perr := parseID("id", args[1])
					if perr != nil {
						return perr
					}
					res, err = uc.RequestDeletion(cmd.Context(), args[0], id, dryRun)
				}
				if res != nil {
					if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
						return perr
					}
				}
				if pf, ok := lifecycle.IsPartialFailure(err); ok {
					path := planPath
					if path == "" && res != nil && res.Plan != nil {
						path = savePlan
						if path == "" {
							path = fmt.Sprintf("lifecycle-plan-%s.json", res.Plan.TargetID)
						}
						if werr := writePlan(path, res.Plan); werr != nil {
							return fmt.Errorf("%w (saving plan failed: %v)", err, werr)
						}
					}
					return fmt.Errorf("%w; resume with: lifecyclectl delete --plan %s --from-step %d", err, path, pf.Step)
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan only")
	cmd.Flags().StringVar(&planPath, "plan", "", "execute a plan written by \"plan --out\" or a failed delete")
	cmd.Flags().IntVar(&fromStep, "from-step", 0, "with --plan, resume at this step")
	cmd.Flags().StringVar(&savePlan, "save-plan", "", "where to save the plan after a partial failure")
	return cmd
}

func newPurgeCmd(open appOpener) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "purge <learner_id>",
		Short: "Remove everything virtualized for a learner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			learnerID, err := parseID("learner_id", args[0])
			if err != nil {
				return err
			}
			return withLifecycle(open, func(_ *app.App, uc lifecycle.Usecases) error {
				res, err := uc.PurgeLearner(cmd.Context(), learnerID, dryRun)
				if res != nil {
					if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan only")
	return cmd
}
