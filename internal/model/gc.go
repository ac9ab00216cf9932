package model

import "sort"

// DataToGc is the result of one GC planning pass (spec §4.5): a sorted
// set of partition keys to drop entirely, plus a sorted map from
// surviving partition key to the row keys to drop within it. A
// partition key never appears in both collections (spec invariant).
type DataToGc struct {
	partitions map[string]struct{}
	rows       map[string]map[string]struct{}
}

// NewDataToGc returns an empty plan.
func NewDataToGc() *DataToGc {
	return &DataToGc{
		partitions: make(map[string]struct{}),
		rows:       make(map[string]map[string]struct{}),
	}
}

// DropPartition marks partitionKey for whole-partition removal. If rows
// were already queued for that partition they are discarded: dropping
// the partition subsumes dropping any of its rows, preserving the
// disjointness invariant.
func (d *DataToGc) DropPartition(partitionKey string) {
	d.partitions[partitionKey] = struct{}{}
	delete(d.rows, partitionKey)
}

// DropRow queues rowKey for removal from partitionKey's partition. A
// no-op if partitionKey is already queued for whole-partition removal.
func (d *DataToGc) DropRow(partitionKey, rowKey string) {
	if _, whole := d.partitions[partitionKey]; whole {
		return
	}
	bucket, exists := d.rows[partitionKey]
	if !exists {
		bucket = make(map[string]struct{})
		d.rows[partitionKey] = bucket
	}
	bucket[rowKey] = struct{}{}
}

// Partitions returns the sorted list of partition keys queued for
// whole-partition removal.
func (d *DataToGc) Partitions() []string {
	return sortedKeys(d.partitions)
}

// HasPartition reports whether partitionKey is queued for
// whole-partition removal.
func (d *DataToGc) HasPartition(partitionKey string) bool {
	_, ok := d.partitions[partitionKey]
	return ok
}

// Rows returns the sorted row keys queued for removal within
// partitionKey (empty if none).
func (d *DataToGc) Rows(partitionKey string) []string {
	bucket, exists := d.rows[partitionKey]
	if !exists {
		return nil
	}
	out := make([]string, 0, len(bucket))
	for k := range bucket {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RowPartitions returns the sorted list of partition keys that have at
// least one row queued for removal.
func (d *DataToGc) RowPartitions() []string {
	return sortedKeys(d.rows)
}

// IsEmpty reports whether the plan has nothing to do.
func (d *DataToGc) IsEmpty() bool {
	return len(d.partitions) == 0 && len(d.rows) == 0
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
