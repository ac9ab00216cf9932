package master

import (
	"context"
	"time"

	"go.uber.org/zap"

	"kvmesh/internal/gcplan"
	"kvmesh/internal/model"
	"kvmesh/internal/telemetry"
)

// Broadcaster pushes GC-driven deletions out to subscribed readers.
// Implemented by *Server; kept as an interface here so the GC loop
// doesn't need to know about connections.
type Broadcaster interface {
	BroadcastDeleteRows(table string, refs []RowKeyRef)
}

// GCLoop runs the periodic sweep that retires expired or excess data
// across every table in a Store (spec §4.5, run on a single goroutine
// per master per spec §5).
type GCLoop struct {
	store       *Store
	broadcaster Broadcaster
	interval    time.Duration
	counters    *telemetry.Counters
	log         *zap.Logger
}

// NewGCLoop builds a GCLoop that sweeps store every interval.
func NewGCLoop(store *Store, broadcaster Broadcaster, interval time.Duration, counters *telemetry.Counters, log *zap.Logger) *GCLoop {
	return &GCLoop{store: store, broadcaster: broadcaster, interval: interval, counters: counters, log: log}
}

// Run blocks, ticking until ctx is cancelled.
func (g *GCLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweepOnce(ctx)
		}
	}
}

func (g *GCLoop) sweepOnce(ctx context.Context) {
	now := model.NewTimestamp(time.Now())
	for _, name := range g.store.Tables() {
		if err := g.sweepTable(ctx, name, now); err != nil {
			g.log.Warn("gc sweep failed", zap.String("table", name), zap.Error(err))
		}
	}
}

func (g *GCLoop) sweepTable(ctx context.Context, name string, now model.Timestamp) error {
	var plan *model.DataToGc
	err := g.store.withTable(name, func(t *model.Table) {
		plan = gcplan.Plan(t, now)
	})
	if err != nil {
		return err
	}
	if plan.IsEmpty() {
		return nil
	}

	var deletedRows []RowKeyRef
	rowsDropped := 0
	err = g.store.withTable(name, func(t *model.Table) {
		for _, pk := range plan.Partitions() {
			p := t.GetPartition(pk)
			if p == nil {
				continue
			}
			for _, row := range p.Rows() {
				deletedRows = append(deletedRows, RowKeyRef{PartitionKey: pk, RowKey: row.RowKey()})
			}
			rowsDropped += p.Len()
			t.RemovePartition(pk)
		}
		for _, pk := range plan.RowPartitions() {
			for _, rk := range plan.Rows(pk) {
				t.RemoveRow(pk, rk, true)
				deletedRows = append(deletedRows, RowKeyRef{PartitionKey: pk, RowKey: rk})
				rowsDropped++
			}
		}
	})
	if err != nil {
		return err
	}

	g.counters.RecordGC(ctx, len(plan.Partitions()), rowsDropped)

	if g.broadcaster != nil && len(deletedRows) > 0 {
		g.broadcaster.BroadcastDeleteRows(name, deletedRows)
	}
	return nil
}
