package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

// claimURL is the operator page that claims a pairing code.
func claimURL(cloudURL, code string) string {
	return strings.TrimRight(cloudURL, "/") + "/nodes/claim?code=" + url.QueryEscape(code)
}

func printQRCode(w io.Writer, content string) error {
	code, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, code.ToString(false))
	return nil
}

// newPairCmd creates the "autocue-node pair" subcommand.
func newPairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Pair this node with a venue",
		Long:  "Requests a pairing code, shows it, and waits until an operator\nclaims it for a venue. The issued node token is saved to the config file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, _, err := openAgent(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			out := cmd.OutOrStdout()

			force, _ := cmd.Flags().GetBool("force")
			cfg := a.Config()
			if cfg.Paired() && !force {
				fmt.Fprintf(out, "already paired as node %s (use --force to pair again)\n", cfg.NodeID)
				return nil
			}
			if force {
				cfg.NodeID, cfg.NodeToken = "", ""
				if err := a.UpdateConfig(cfg); err != nil {
					return err
				}
			}

			ps, err := a.BeginPairing(cmd.Context())
			if err != nil {
				return err
			}
			link := claimURL(cfg.CloudURL, ps.Code)
			fmt.Fprintf(out, "Pairing code: %s\n", ps.Code)
			fmt.Fprintf(out, "Claim it at:  %s\n", link)
			fmt.Fprintf(out, "Expires:      %s\n", ps.ExpiresAt.Local().Format(time.Kitchen))
			if isatty.IsTerminal(os.Stdout.Fd()) {
				if err := printQRCode(out, link); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: could not render QR code: %v\n", err)
				}
			}

			ctx, cancel := context.WithDeadline(cmd.Context(), ps.ExpiresAt)
			defer cancel()
			if err := a.WaitPaired(ctx, 0); err != nil {
				return fmt.Errorf("pairing not completed: %w", err)
			}
			fmt.Fprintf(out, "Paired as node %s\n", a.Config().NodeID)
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "discard the existing credential and pair again")
	return cmd
}
