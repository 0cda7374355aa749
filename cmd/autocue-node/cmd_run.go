package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/mdns"
	"github.com/spf13/cobra"

	"github.com/quickpayplatform/autocue/internal/agent"
	"github.com/quickpayplatform/autocue/internal/config"
	"github.com/quickpayplatform/autocue/internal/server"
)

// newRunCmd creates the "autocue-node run" subcommand.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the relay node",
		Long:  "Serves the local status API, keeps the relay session to the cloud\nand replays dispatched cues against the console.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, store, log, err := openAgent(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := a.Config()
			if !cfg.Paired() && cfg.PairingCode == "" {
				ps, err := a.BeginPairing(ctx)
				if err != nil {
					log.Warnw("pairing_start_failed", "err", err)
				} else {
					log.Infow("pairing_code", "code", ps.Code, "claim_url", claimURL(cfg.CloudURL, ps.Code))
				}
			}

			// edits of the file on disk take effect without a restart
			store.Watch(func(n config.Node, err error) {
				if err != nil {
					log.Warnw("node_config_reload_failed", "err", err)
					return
				}
				if err := a.Apply(n); err != nil {
					log.Warnw("console_open_failed", "err", err)
				}
			})

			gin.SetMode(gin.ReleaseMode)
			srv := &server.Server{}
			go func() {
				log.Infow("local_api_listening", "addr", cfg.Listen)
				if err := srv.Run(cfg.Listen, agent.NewLocalAPI(a).Routes()); err != nil {
					log.Errorw("local_api_failed", "err", err)
				}
			}()

			if cfg.MDNS {
				if mdnsSrv, err := advertise(cfg.Listen, a.Status()); err != nil {
					log.Warnw("mdns_advertise_failed", "err", err)
				} else {
					defer mdnsSrv.Shutdown()
				}
			}

			a.Run(ctx)

			log.Infow("shutting down node...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func advertise(listen string, st agent.Status) (*mdns.Server, error) {
	port, err := agent.ListenPort(listen)
	if err != nil {
		return nil, err
	}
	host, _ := os.Hostname()
	return agent.Advertise(host, port, st)
}
