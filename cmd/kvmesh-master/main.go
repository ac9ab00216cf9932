// Package main is the kvmesh-master binary: it loads a TOML config,
// opens a table store, and serves readers over the wire protocol
// while a GC loop retires expired or excess data.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"kvmesh/internal/config"
	"kvmesh/internal/logging"
	"kvmesh/internal/master"
	"kvmesh/internal/telemetry"
)

func main() {
	var configPath string
	rootCmd := &cobra.Command{
		Use:   "kvmesh-master",
		Short: "In-memory partitioned key-value store master node",
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(configPath)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "kvmesh-master.toml", "Path to the master TOML config file")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadMaster(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() { _ = log.Sync() }()

	meter := otel.GetMeterProvider().Meter("kvmesh-master")
	counters, err := telemetry.New(meter)
	if err != nil {
		return fmt.Errorf("configure telemetry: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store := master.NewStore(log)
	server := master.NewServer(store, counters, cfg.Master.Ping(), cfg.Master.Compress, log)
	gcLoop := master.NewGCLoop(store, server, cfg.Master.GCInterval(), counters, log)

	ln, err := net.Listen("tcp", cfg.Master.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Master.ListenAddress, err)
	}
	log.Info("kvmesh-master listening", zap.String("address", cfg.Master.ListenAddress))

	go gcLoop.Run(ctx)

	if err := server.Serve(ctx, ln); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
