package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/nibblearena/gameserver/config"
	"github.com/nibblearena/gameserver/logger"
	"github.com/nibblearena/gameserver/monitor"
	"github.com/nibblearena/gameserver/server"
)

func main() {
	logger.Init("info")

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("failed to load configuration: %v", err)
	}
	if cfg.Logging.Level != "info" {
		logger.Init(cfg.Logging.Level)
	}

	var mon *monitor.Monitor
	if cfg.Server.MetricsAddr != "" {
		mon = monitor.NewMonitor("gameserver")
		mon.StartServer(cfg.Server.MetricsAddr)
		logger.Log.Infof("metrics listening on %s", cfg.Server.MetricsAddr)
	}

	gameServer := server.NewGameServer(cfg, mon)

	errCh := make(chan error, 1)
	go func() {
		errCh <- gameServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Log.Warnf("received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			logger.Log.Fatalf("server failed to start: %v", err)
		}
		return
	}

	gameServer.Stop()
	if mon != nil {
		mon.StopServer()
	}
	logger.Log.Info("shutdown complete")
}
