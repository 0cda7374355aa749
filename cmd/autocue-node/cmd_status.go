package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newStatusCmd creates the "autocue-node status" subcommand.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show node configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, store, _, err := openAgent(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			st := a.Status()
			cfg := a.Config().Redacted()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config:     %s\n", store.Path())
			fmt.Fprintf(out, "cloud:      %s\n", cfg.CloudURL)
			if st.Paired {
				fmt.Fprintf(out, "node:       %s (token %s)\n", cfg.NodeID, cfg.NodeToken)
			} else if st.PairingCode != "" {
				fmt.Fprintf(out, "node:       not paired, code %s pending\n", st.PairingCode)
			} else {
				fmt.Fprintln(out, "node:       not paired")
			}
			fmt.Fprintf(out, "console:    %s:%d (%s)\n", cfg.ConsoleIP, cfg.OSCPort, cfg.OSCMode)
			fmt.Fprintf(out, "reachable:  %t\n", st.ConsoleReachable)
			fmt.Fprintf(out, "local api:  %s\n", cfg.Listen)
			return nil
		},
	}
}
