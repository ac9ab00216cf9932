// Package gcplan computes the garbage-collection plan for a table
// (spec §4.5): which partitions to drop whole, and which rows to drop
// within the partitions that survive. It is read-only with respect to
// the table — applying the plan (actually removing data) is the
// master store's job (internal/master), so planning can run under a
// read lock while deletion takes the write lock only for as long as it
// needs.
package gcplan

import "kvmesh/internal/model"

// Plan produces a DataToGc for table as of now. The steps mirror spec
// §4.5 exactly:
//
//  1. drop least-recently-written partitions in excess of
//     MaxPartitionsAmount;
//  2. drop partitions whose own expiration has elapsed;
//  3. for every partition not already queued for removal, collect rows
//     past their expiration plus rows in excess of
//     MaxRowsPerPartitionAmount.
func Plan(table *model.Table, now model.Timestamp) *model.DataToGc {
	result := model.NewDataToGc()
	attrs := table.Attributes()

	for _, p := range table.PartitionsToGCByMax(attrs.MaxPartitionsAmount) {
		result.DropPartition(p.PartitionKey())
	}
	for _, p := range table.PartitionsToExpire(now) {
		result.DropPartition(p.PartitionKey())
	}

	for _, p := range table.Partitions() {
		if result.HasPartition(p.PartitionKey()) {
			continue
		}
		planPartitionRows(result, p, now, attrs.MaxRowsPerPartitionAmount)
	}

	return result
}

func planPartitionRows(result *model.DataToGc, p *model.Partition, now model.Timestamp, maxRows int) {
	pk := p.PartitionKey()
	expired := make(map[*model.Row]struct{})
	for _, row := range p.RowsToExpire(now) {
		expired[row] = struct{}{}
		result.DropRow(pk, row.RowKey())
	}

	if maxRows <= 0 {
		return
	}
	// RowsToGCByMax ranks against the partition's current row count,
	// which still includes rows already queued for expiration above;
	// that's fine — a row queued twice collapses to one DropRow call
	// since DataToGc.DropRow is keyed by row key.
	for _, row := range p.RowsToGCByMax(maxRows) {
		result.DropRow(pk, row.RowKey())
	}
}
