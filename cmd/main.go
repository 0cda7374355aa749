// @title        AutoCue API
// @version      1.0
// @description  Operator cue authoring and approval, lighting console execution over OSC, and relay node pairing.
// @BasePath     /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
// @securityDefinitions.apikey  NodeToken
// @in                          header
// @name                        Authorization
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quickpayplatform/autocue/internal/config"
	"github.com/quickpayplatform/autocue/internal/handlers"
	"github.com/quickpayplatform/autocue/internal/logger"
	"github.com/quickpayplatform/autocue/internal/notify"
	"github.com/quickpayplatform/autocue/internal/osc"
	"github.com/quickpayplatform/autocue/internal/repository"
	"github.com/quickpayplatform/autocue/internal/repository/db"
	"github.com/quickpayplatform/autocue/internal/server"
	"github.com/quickpayplatform/autocue/internal/service"
	"github.com/quickpayplatform/autocue/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// load configs/config.yml
	cfg, err := config.LoadCloud("configs", "config")
	if err != nil {
		logger.Get("info", "console").Fatalw("error reading config", "err", err)
	}
	log := logger.Get(cfg.Log.Level, cfg.Log.Format)

	// open DB
	sqlDB, err := db.InitDB(cfg.DB.Path)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err, "path", cfg.DB.Path)
	}
	defer func() {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	bridge, err := service.NewDirectBridge(osc.Config{
		Host:         cfg.OSC.IP,
		Port:         cfg.OSC.Port,
		Mode:         cfg.OSC.Mode,
		UDPLocalPort: cfg.OSC.UDPLocalPort,
		Rate:         cfg.OSC.Rate,
	}, cfg.OSC.Whitelist, log.Named("console"))
	if err != nil {
		log.Fatalw("failed to open console bridge", "err", err, "ip", cfg.OSC.IP)
	}
	defer bridge.Close()

	deps := service.Deps{Config: cfg, Log: log, Direct: bridge}

	if cfg.MQTT.Enabled {
		pub, err := notify.Connect(cfg.MQTT, log.Named("mqtt"))
		if err != nil {
			log.Fatalw("failed to connect mqtt", "err", err, "broker", cfg.MQTT.Broker)
		}
		defer pub.Close()
		deps.Publisher = pub
	}
	if cfg.Influx.Enabled {
		hw, err := telemetry.Connect(cfg.Influx, log.Named("influx"))
		if err != nil {
			log.Fatalw("failed to connect influxdb", "err", err, "url", cfg.Influx.URL)
		}
		defer hw.Close()
		deps.Telemetry = hw
	}

	// wire dependencies
	repos := repository.NewRepository(sqlDB)
	services := service.NewService(repos, deps)
	apiHandler := handlers.NewHandler(services, log.Named("http"))

	// context for background goroutines
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// no sessions survive a restart
	if err := services.Nodes.ResetOnline(ctx); err != nil {
		log.Fatalw("failed to reset node status", "err", err)
	}

	go services.Executor.Run(ctx, cfg.Executor.PollInterval)

	srv := &server.Server{}
	runHTTPServer(srv, cfg.Port, apiHandler, log)

	waitForShutdown(cancel, srv, services, log)
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		log.Infow("http_listening", "port", port)
		if err := srv.Run(port, handler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals and performs graceful shutdown.
func waitForShutdown(cancel context.CancelFunc, srv *server.Server, services *service.Service, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	// stop the executor
	cancel()

	// hijacked websockets are not tracked by http.Server
	services.Relay.Shutdown()

	ctx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server forced to shutdown", "err", err)
	}
}
