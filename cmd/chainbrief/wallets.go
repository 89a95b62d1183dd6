package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/chainbrief/config"
)

func walletsCMD() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "wallets",
		Short: "Manage the tracked wallet set",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file path")

	list := &cobra.Command{
		Use:   "list",
		Short: "List tracked wallets",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			defer a.close()
			wallets, err := a.store.ListWallets(cmd.Context())
			if err != nil {
				return err
			}
			for _, w := range wallets {
				fmt.Fprintln(cmd.OutOrStdout(), w)
			}
			return nil
		},
	}

	var label string
	add := &cobra.Command{
		Use:   "add <address>",
		Short: "Track a wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !config.ValidWalletAddress(args[0]) {
				return fmt.Errorf("%q is not a valid wallet address", args[0])
			}
			a, err := buildApp(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			defer a.close()
			return a.store.AddWallet(cmd.Context(), args[0], label)
		},
	}
	add.Flags().StringVar(&label, "label", "", "human-readable wallet label")

	remove := &cobra.Command{
		Use:   "remove <address>",
		Short: "Stop tracking a wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			defer a.close()
			return a.store.RemoveWallet(cmd.Context(), args[0])
		},
	}

	cmd.AddCommand(list, add, remove)
	return cmd
}
