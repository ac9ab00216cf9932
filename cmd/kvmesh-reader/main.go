// Package main is the kvmesh-reader binary: it mirrors one table from
// a kvmesh-master and logs insert/delete events as they arrive. It
// uses the generic JSON row type rather than a compiled-in schema, so
// it can point at any table without code changes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"kvmesh/internal/config"
	"kvmesh/internal/logging"
	"kvmesh/internal/reader"
	"kvmesh/internal/rowtype"
	"kvmesh/internal/telemetry"
)

func main() {
	var configPath string
	rootCmd := &cobra.Command{
		Use:   "kvmesh-reader",
		Short: "Mirrors a kvmesh table and logs change events",
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(configPath)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "kvmesh-reader.toml", "Path to the reader TOML config file")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadReader(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() { _ = log.Sync() }()

	meter := otel.GetMeterProvider().Meter("kvmesh-reader")
	counters, err := telemetry.New(meter)
	if err != nil {
		return fmt.Errorf("configure telemetry: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	serializer := rowtype.JSONSerializer{Table: cfg.Reader.Table}
	callbacks := reader.Callbacks[rowtype.JSONRow]{
		InsertedOrReplaced: func(partitionKey, rowKey string, _ *reader.RowCell[rowtype.JSONRow]) {
			log.Info("row upserted", zap.String("partition_key", partitionKey), zap.String("row_key", rowKey))
		},
		Deleted: func(partitionKey, rowKey string) {
			log.Info("row deleted", zap.String("partition_key", partitionKey), zap.String("row_key", rowKey))
		},
	}
	cache := reader.NewCache(serializer, callbacks)
	go cache.Run()
	defer cache.Close()

	queue := reader.NewSyncQueue()
	conn := reader.NewConnection(
		cfg.Reader.MasterAddress, cfg.Reader.Table, cfg.Reader.Location,
		cfg.Reader.ConnectTimeout(), cfg.Reader.PingTimeoutDuration(),
		cache, queue, counters, log,
	)

	log.Info("kvmesh-reader starting", zap.String("master", cfg.Reader.MasterAddress), zap.String("table", cfg.Reader.Table))
	conn.Run(ctx, cfg.Reader.InitialBackoff(), cfg.Reader.MaxBackoff())
	return nil
}
