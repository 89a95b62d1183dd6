package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func briefsCMD() *cobra.Command {
	var cfgPath string
	var limit int
	cmd := &cobra.Command{
		Use:   "briefs",
		Short: "Show recent briefs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			defer a.close()
			artifacts, err := a.store.RecentArtifacts(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, art := range artifacts {
				ts := time.Unix(art.Timestamp, 0).UTC().Format(time.RFC3339)
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  (%d events)\n  %s\n", art.ArtifactID, ts, art.EventCount, art.Summary)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	cmd.Flags().IntVar(&limit, "limit", 10, "number of briefs to show")

	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over briefs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			defer a.close()
			ids, err := a.index.Search(args[0], 20)
			if err != nil {
				return err
			}
			for _, id := range ids {
				art, ok, err := a.store.GetArtifact(cmd.Context(), id)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", art.ArtifactID, art.Summary)
			}
			return nil
		},
	}
	cmd.AddCommand(search)
	return cmd
}
