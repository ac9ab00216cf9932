// Package telemetry exposes the otel metric counters the master GC
// loop and reader connections increment (SPEC_FULL.md §2B).
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Counters bundles the instruments a running node reports through.
type Counters struct {
	GCPartitionsDropped metric.Int64Counter
	GCRowsDropped       metric.Int64Counter
	ReaderReconnects    metric.Int64Counter
	SyncQueueDepth      metric.Int64UpDownCounter
}

// New builds Counters against meter, registering the instruments
// kvmesh.gc.partitions_dropped, kvmesh.gc.rows_dropped,
// kvmesh.reader.reconnects and kvmesh.reader.sync_queue_depth.
func New(meter metric.Meter) (*Counters, error) {
	partitionsDropped, err := meter.Int64Counter(
		"kvmesh.gc.partitions_dropped",
		metric.WithDescription("partitions removed by a GC pass"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: gc.partitions_dropped: %w", err)
	}

	rowsDropped, err := meter.Int64Counter(
		"kvmesh.gc.rows_dropped",
		metric.WithDescription("rows removed by a GC pass"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: gc.rows_dropped: %w", err)
	}

	reconnects, err := meter.Int64Counter(
		"kvmesh.reader.reconnects",
		metric.WithDescription("reconnect attempts made by a reader connection"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: reader.reconnects: %w", err)
	}

	queueDepth, err := meter.Int64UpDownCounter(
		"kvmesh.reader.sync_queue_depth",
		metric.WithDescription("pending outbound sync items across a reader's queues"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: reader.sync_queue_depth: %w", err)
	}

	return &Counters{
		GCPartitionsDropped: partitionsDropped,
		GCRowsDropped:       rowsDropped,
		ReaderReconnects:    reconnects,
		SyncQueueDepth:      queueDepth,
	}, nil
}

// RecordGC adds a GC pass's drop counts.
func (c *Counters) RecordGC(ctx context.Context, partitions, rows int) {
	if c == nil {
		return
	}
	if partitions > 0 {
		c.GCPartitionsDropped.Add(ctx, int64(partitions))
	}
	if rows > 0 {
		c.GCRowsDropped.Add(ctx, int64(rows))
	}
}

// RecordReconnect notes one reconnect attempt.
func (c *Counters) RecordReconnect(ctx context.Context) {
	if c == nil {
		return
	}
	c.ReaderReconnects.Add(ctx, 1)
}

// AdjustQueueDepth reports a change (positive enqueue, negative
// drain) in an outbound sync queue's depth.
func (c *Counters) AdjustQueueDepth(ctx context.Context, delta int) {
	if c == nil {
		return
	}
	c.SyncQueueDepth.Add(ctx, int64(delta))
}
