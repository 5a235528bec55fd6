package main

import (
	"github.com/spf13/cobra"

	"github.com/d60-Lab/content-fanout/config"
	"github.com/d60-Lab/content-fanout/pkg/logger"
)

type rootOptions struct {
	configPath string
	cfg        *config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "engine",
		Short:         "content fan-out and cache consistency engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var paths []string
			if opts.configPath != "" {
				paths = append(paths, opts.configPath)
			}
			cfg, err := config.Load(paths...)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			return logger.Init(cfg.Log.Level, cfg.Log.Format)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ./config.yaml)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newDiscoverCommand(opts))
	cmd.AddCommand(newRebuildReactionsCommand(opts))
	cmd.AddCommand(newReconcileCommand(opts))
	return cmd
}
