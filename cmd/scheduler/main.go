package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/taskmesh/hetero-sched/internal/devsched/console"
	"github.com/taskmesh/hetero-sched/internal/devsched/device"
	"github.com/taskmesh/hetero-sched/internal/devsched/ipc"
	"github.com/taskmesh/hetero-sched/internal/devsched/scheduler"
	"github.com/taskmesh/hetero-sched/internal/devsched/strategy"
	"github.com/taskmesh/hetero-sched/internal/devsched/telemetry"
	"github.com/taskmesh/hetero-sched/pkg/config"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Heterogeneous-device task scheduler",
		Long:  "Central scheduler process: device/ability registry, strategy engine, IPC endpoint, and telemetry orchestrator",
		Run:   runScheduler,
	}

	rootCmd.Flags().String("config", "", "config file path")
	rootCmd.Flags().String("environment", "development", "environment name (development, production)")
	rootCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().String("metrics-addr", "0.0.0.0:9090", "Prometheus metrics bind address")

	viper.BindPFlags(rootCmd.Flags())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runScheduler(cmd *cobra.Command, args []string) {
	logger := initLogger()

	mgr := config.NewManager(viper.GetString("environment"), viper.GetString("config"))
	cfg, err := mgr.Load()
	if err != nil {
		logger.WithError(err).Fatal("scheduler: failed to load configuration")
	}

	if cfg.UsingDefaultPresharedKey() {
		logger.Warn("scheduler: ipc.preshared_key is still the shipped default — override it before exposing this socket beyond local development")
	}

	registry := device.NewRegistry()
	for _, d := range cfg.Scheduler.Devices {
		dt := device.Type(d.Type)
		if !dt.Valid() {
			logger.WithField("device_type", d.Type).Fatal("scheduler: unknown device type in configuration")
		}
		registry.AddDevice(device.New(dt, d.ID, d.ComputePower))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metrics := scheduler.NewMetrics(reg)

	initialMode := strategy.Static
	if cfg.Scheduler.InitialMode == "dynamic" {
		initialMode = strategy.Dynamic
	}

	sched := scheduler.New(scheduler.Config{
		StrategyTimeout: cfg.Scheduler.StrategyTimeout,
		InitialMode:     initialMode,
	}, registry, logger, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := &ipc.Server{
		SocketPath:   cfg.IPC.SocketPath,
		PresharedKey: []byte(cfg.IPC.PresharedKey),
		Scheduler:    sched,
		Logger:       logger,
	}
	if err := srv.Listen(); err != nil {
		logger.WithError(err).Fatal("scheduler: failed to bind IPC socket")
	}
	go func() {
		if err := srv.Serve(); err != nil {
			logger.WithError(err).Error("scheduler: IPC server stopped")
		}
	}()
	logger.WithField("socket", cfg.IPC.SocketPath).Info("scheduler: IPC endpoint listening")

	hubs := make(map[device.Type]*telemetry.Hub, len(device.ValidTypes))
	publishers := make([]*telemetry.Publisher, 0, len(device.ValidTypes))
	for _, dt := range device.ValidTypes {
		hub := telemetry.NewHub(logger)
		hubs[dt] = hub
		pub := telemetry.NewPublisher(dt, hub, logger)
		publishers = append(publishers, pub)
		go func(p *telemetry.Publisher, t device.Type) {
			logger.WithFields(logrus.Fields{"device_type": t, "port": device.Ports[t]}).Info("scheduler: telemetry publisher listening")
			if err := p.ListenAndServe(ctx); err != nil {
				logger.WithError(err).WithField("device_type", t).Error("scheduler: telemetry publisher stopped")
			}
		}(pub, dt)
	}

	orchestrator := telemetry.NewOrchestrator(sched, hubs, cfg.Telemetry.TickPeriod, logger)
	go orchestrator.Run(ctx)

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{
		Addr:    viper.GetString("metrics-addr"),
		Handler: metricsRouter,
	}
	go func() {
		logger.WithField("addr", metricsServer.Addr).Info("scheduler: metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("scheduler: metrics server stopped")
		}
	}()

	if cfg.Scheduler.ConsoleEnabled {
		repl := console.New(sched, os.Stdin, logger)
		go repl.Run(ctx)
		logger.Info("scheduler: operator console ready (commands: switch, exit)")
	}

	logger.Info("scheduler: startup complete")
	waitForShutdown(logger)

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Close(); err != nil {
		logger.WithError(err).Error("scheduler: failed to close IPC server")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("scheduler: failed to shut down metrics server")
	}
	logger.Info("scheduler: shutdown complete")
}

func waitForShutdown(logger *logrus.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("scheduler: shutdown signal received")
}

func initLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	return logger
}
