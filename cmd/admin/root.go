package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bookwell.io/internal/config"
	"bookwell.io/internal/obs"
)

type rootOptions struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "bookwell-admin",
		Short:         "Operator tooling for the Bookwell API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(opts.configPath)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			obs.SetLevel(cfg.Log.Level)
			opts.cfg = cfg
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("BOOKWELL_CONFIG"), "path to YAML config")

	cmd.AddCommand(newMigrateCmd(opts), newTokenCmd(opts))
	return cmd
}
