package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/frostdev-ops/remote-bridge-go/internal/config"
	"github.com/frostdev-ops/remote-bridge-go/internal/core/controller"
	"github.com/frostdev-ops/remote-bridge-go/internal/metrics"
	"github.com/frostdev-ops/remote-bridge-go/internal/websocket"
	"github.com/frostdev-ops/remote-bridge-go/pkg/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "0.9.0"

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		showHelp    = flag.Bool("help", false, "Show help information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("Remote Bridge %s (integration API %s)\n", version, controller.APIVersion)
		os.Exit(0)
	}
	if *showHelp {
		fmt.Printf("Remote Bridge - Home Assistant integration for Remote Two\n\n")
		fmt.Printf("Usage: %s [options]\n\nOptions:\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(0)
	}

	log := logger.New()
	log.Infof("Starting Remote Bridge v%s", version)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}
	logger.SetLevel(log, cfg.Logging.Level)
	logger.SetFormat(log, cfg.Logging.Format)

	m := metrics.New(prometheus.DefaultRegisterer)

	ctrl := controller.New(cfg, m, version, log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	server := websocket.NewServer(cfg, ctrl, log)
	go func() {
		if err := server.Run(); err != nil {
			log.Fatal("Failed to start integration server: ", err)
		}
	}()

	var advertiser *websocket.Advertiser
	if cfg.MDNS.Enabled {
		advertiser, err = websocket.Advertise(cfg.MDNS.Instance, cfg.Server.Port, version, log)
		if err != nil {
			log.WithError(err).Warn("Failed to register mDNS service")
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")
	advertiser.Shutdown()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	log.Info("Bridge exited")
}
