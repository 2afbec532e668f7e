package main

import (
	"github.com/spf13/cobra"

	"github.com/yungbote/neurobridge-lifecycle/internal/app"
	"github.com/yungbote/neurobridge-lifecycle/internal/modules/lifecycle"
)

func newStatusCmd(open appOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "status <learner_id> <module_id>",
		Short: "Show the lookahead buffer of a learner in a module",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			learnerID, err := parseID("learner_id", args[0])
			if err != nil {
				return err
			}
			moduleID, err := parseID("module_id", args[1])
			if err != nil {
				return err
			}
			return withLifecycle(open, func(_ *app.App, uc lifecycle.Usecases) error {
				st, err := uc.GetLookaheadStatus(cmd.Context(), learnerID, moduleID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
}

func newReadinessCmd(open appOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "readiness <topic_id>",
		Short: "Check whether a topic can be virtualized",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topicID, err := parseID("topic_id", args[0])
			if err != nil {
				return err
			}
			return withLifecycle(open, func(_ *app.App, uc lifecycle.Usecases) error {
				res, err := uc.CheckTopicReadiness(cmd.Context(), topicID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func newTaskCmd(open appOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "task <task_id>",
		Short: "Show a generation task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseID("task_id", args[0])
			if err != nil {
				return err
			}
			return withLifecycle(open, func(_ *app.App, uc lifecycle.Usecases) error {
				task, err := uc.GetTask(cmd.Context(), taskID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), task)
			})
		},
	}
}
