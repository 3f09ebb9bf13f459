package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bjmb/simulacron/internal/addressing"
	"github.com/bjmb/simulacron/internal/config"
	"github.com/bjmb/simulacron/internal/logging"
	"github.com/bjmb/simulacron/internal/metrics"
	"github.com/bjmb/simulacron/internal/simulator"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.String("addressing_cidr", cfg.Addressing.CIDR),
		zap.Int("base_port", cfg.Addressing.BasePort),
		zap.Duration("bind_timeout", cfg.Bind.Timeout))

	resolver, err := addressing.NewLoopbackResolver(cfg.Addressing.CIDR, cfg.Addressing.BasePort, cfg.Addressing.PortsPerHost)
	if err != nil {
		logger.Fatal("failed to build address resolver", zap.Error(err))
	}

	srv := simulator.New(resolver, logger)

	m := metrics.New()
	srv.SetMetrics(m)

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.Metrics.Address, Handler: mux}
		go func() {
			logger.Info("metrics server starting", zap.String("address", cfg.Metrics.Address))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down gracefully...")
	if metricsServer != nil {
		metricsServer.Shutdown(context.Background())
	}
	n := srv.UnregisterAll()
	logger.Info("released registered clusters", zap.Int("count", n))
}
