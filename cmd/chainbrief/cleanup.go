package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func cleanupCMD() *cobra.Command {
	var cfgPath string
	var scratchDays, eventsDays, artifactDays int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete rows past the retention horizons",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			defer a.close()
			if scratchDays == 0 {
				scratchDays = a.cfg.Storage.Retention.ScratchDays
			}
			if eventsDays == 0 {
				eventsDays = a.cfg.Storage.Retention.EventsDays
			}
			if artifactDays == 0 {
				artifactDays = a.cfg.Storage.Retention.ArtifactDays
			}
			stats, err := a.store.Cleanup(cmd.Context(), time.Now(), scratchDays, eventsDays, artifactDays)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d scratch, %d events, %d artifacts\n",
				stats.Scratch, stats.Events, stats.Artifacts)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	cmd.Flags().IntVar(&scratchDays, "scratch", 0, "scratch retention days (0 = config value)")
	cmd.Flags().IntVar(&eventsDays, "events", 0, "events retention days (0 = config value)")
	cmd.Flags().IntVar(&artifactDays, "artifacts", 0, "artifact retention days (0 = config value)")
	return cmd
}
