package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func runCMD() *cobra.Command {
	var cfgPath string
	var goal string
	var thread string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a single pipeline tick",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			if thread != "" && goal == "" {
				record, err := a.runner.Resume(cmd.Context(), thread)
				if err != nil {
					return err
				}
				printRun(cmd, record.ID, record.ThreadID, record.Status, record.Action, record.BriefText)
				return nil
			}
			if goal == "" {
				goal = "manual tick"
			}
			record, err := a.runner.RunOnce(cmd.Context(), goal, thread)
			if err != nil {
				return err
			}
			printRun(cmd, record.ID, record.ThreadID, record.Status, record.Action, record.BriefText)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	cmd.Flags().StringVar(&goal, "goal", "", "goal for the run")
	cmd.Flags().StringVar(&thread, "thread", "", "thread id to continue (resumes when no goal is given)")
	return cmd
}

func printRun(cmd *cobra.Command, id, thread, status, action, brief string) {
	fmt.Fprintf(cmd.OutOrStdout(), "run %s (thread %s): %s action=%s\n", id, thread, status, action)
	if brief != "" {
		fmt.Fprintln(cmd.OutOrStdout(), brief)
	}
}
