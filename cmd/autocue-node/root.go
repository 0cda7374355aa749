package main

import (
	"github.com/spf13/cobra"

	"github.com/quickpayplatform/autocue/internal/agent"
	"github.com/quickpayplatform/autocue/internal/config"
	"github.com/quickpayplatform/autocue/internal/logger"
)

const defaultConfigPath = "configs/autocue-node.yml"

// newRootCmd creates the root autocue-node command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "autocue-node",
		Short:         "AutoCue relay node",
		Long:          "autocue-node connects a venue's lighting console to the AutoCue cloud.\nIt pairs once, then keeps an authenticated relay session open.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("autocue-node {{.Version}}\n")
	cmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "node configuration file")

	cmd.AddCommand(
		newRunCmd(),
		newPairCmd(),
		newStatusCmd(),
	)
	return cmd
}

// openAgent loads the node config named by --config and builds the agent.
func openAgent(cmd *cobra.Command) (*agent.Agent, *config.NodeStore, *logger.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	store, err := config.OpenNodeStore(path)
	if err != nil {
		return nil, nil, nil, err
	}
	cfg, err := store.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	log := logger.Get(cfg.Log.Level, cfg.Log.Format)
	a, err := agent.New(store, version, log.Named("agent"))
	if err != nil {
		return nil, nil, nil, err
	}
	return a, store, log, nil
}
