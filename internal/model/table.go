package model

import "sort"

// Attributes configures per-table limits and persistence intent (spec
// §3, "Table" invariants). Persist is carried for API symmetry with the
// original design; this module never actually persists rows (Non-goal).
type Attributes struct {
	Persist                   bool
	MaxPartitionsAmount       int // 0 = unlimited
	MaxRowsPerPartitionAmount int // 0 = unlimited
}

// avgSize is a running (total, count) accumulator for average row size.
type avgSize struct {
	total int64
	count int64
}

func (a *avgSize) add(n int) {
	a.total += int64(n)
	a.count++
}

// Average returns the running average, or 0 if nothing was ever added.
func (a *avgSize) Average() float64 {
	if a.count == 0 {
		return 0
	}
	return float64(a.total) / float64(a.count)
}

// Table is the table→partition→row root container (spec §4.4). A
// single exclusive lock (held by the caller, normally
// internal/master.Store) serializes every structural mutation;
// avgSize, lastWriteMoment and the maps below must only be touched
// under that lock.
type Table struct {
	name       string
	partitions map[string]*Partition
	order      []string
	// partitionExpiration tracks partition-level (not row-level)
	// expirations, the spec §3A supplemental feature.
	partitionExpiration *ExpirationIndex[*Partition]
	partitionExpirations partitionExpirations

	avgRowSize      avgSize
	lastWriteMoment Timestamp
	attributes      Attributes
}

// NewTable creates an empty table named name with the given attributes.
func NewTable(name string, attrs Attributes) *Table {
	return &Table{
		name:                name,
		partitions:          make(map[string]*Partition),
		partitionExpiration: NewExpirationIndex[*Partition](),
		attributes:          attrs,
	}
}

// Name returns the table's name.
func (t *Table) Name() string { return t.name }

// Attributes returns the table's configured limits.
func (t *Table) Attributes() Attributes { return t.attributes }

// SetAttributes replaces the table's configured limits.
func (t *Table) SetAttributes(attrs Attributes) { t.attributes = attrs }

// Len returns the total row count across every partition (spec
// invariant: len(table) = sum of len(partition)).
func (t *Table) Len() int {
	n := 0
	for _, p := range t.partitions {
		n += p.Len()
	}
	return n
}

// PartitionsCount returns the number of partitions.
func (t *Table) PartitionsCount() int { return len(t.partitions) }

// AvgRowSize returns the running average row size in bytes.
func (t *Table) AvgRowSize() float64 { return t.avgRowSize.Average() }

// LastWriteMoment returns the last time any row was written.
func (t *Table) LastWriteMoment() Timestamp { return t.lastWriteMoment }

// GetPartition returns the partition at partitionKey, or nil.
func (t *Table) GetPartition(partitionKey string) *Partition {
	return t.partitions[partitionKey]
}

// Partitions returns every partition, in ascending key order.
func (t *Table) Partitions() []*Partition {
	out := make([]*Partition, 0, len(t.partitions))
	for _, k := range t.order {
		out = append(out, t.partitions[k])
	}
	return out
}

// getOrCreatePartition returns the partition at partitionKey, creating
// it (and registering it in the ordered key list) if absent.
func (t *Table) getOrCreatePartition(partitionKey string) *Partition {
	p, exists := t.partitions[partitionKey]
	if exists {
		return p
	}
	p = NewPartition(partitionKey)
	t.partitions[partitionKey] = p
	i := sort.SearchStrings(t.order, partitionKey)
	t.order = append(t.order, "")
	copy(t.order[i+1:], t.order[i:])
	t.order[i] = partitionKey
	return p
}

// InsertOrReplaceRow inserts row into its partition, creating the
// partition lazily, and updates avgRowSize plus both lastWriteMoment
// cells when now is non-zero.
func (t *Table) InsertOrReplaceRow(row *Row, now Timestamp) {
	p := t.getOrCreatePartition(row.PartitionKey())
	p.Insert(row)
	t.avgRowSize.add(len(row.Raw()))
	if !now.IsZero() {
		t.lastWriteMoment = now
		p.TouchWrite(now)
	}
}

// BulkInsertOrReplace inserts every row in rows into partitionKey's
// partition as a single logical call, matching
// Table.InsertOrReplaceRow's bookkeeping per row.
func (t *Table) BulkInsertOrReplace(partitionKey string, rows []*Row, now Timestamp) {
	p := t.getOrCreatePartition(partitionKey)
	for _, row := range rows {
		p.Insert(row)
		t.avgRowSize.add(len(row.Raw()))
	}
	if !now.IsZero() {
		t.lastWriteMoment = now
		p.TouchWrite(now)
	}
}

// RemoveRow removes rowKey from partitionKey's partition. If
// deleteEmptyPartition is set and the partition is left empty, the
// partition itself is dropped. Returns the removed row (nil if
// absent) and whether the partition ended up empty.
func (t *Table) RemoveRow(partitionKey, rowKey string, deleteEmptyPartition bool) (removed *Row, partitionEmpty bool) {
	p, exists := t.partitions[partitionKey]
	if !exists {
		return nil, false
	}
	removed = p.Remove(rowKey)
	partitionEmpty = p.Len() == 0
	if partitionEmpty && deleteEmptyPartition {
		t.removePartition(partitionKey)
	}
	return removed, partitionEmpty
}

// RemovePartition drops partitionKey entirely, along with its
// partition-level expiration registration if any.
func (t *Table) RemovePartition(partitionKey string) *Partition {
	return t.removePartition(partitionKey)
}

func (t *Table) removePartition(partitionKey string) *Partition {
	p, exists := t.partitions[partitionKey]
	if !exists {
		return nil
	}
	delete(t.partitions, partitionKey)
	i := sort.SearchStrings(t.order, partitionKey)
	if i < len(t.order) && t.order[i] == partitionKey {
		t.order = append(t.order[:i], t.order[i+1:]...)
	}
	t.partitionExpiration.Remove(t.partitionExpirationOf(p), p)
	return p
}

// partitionExpirations holds the table-level expiration instant for
// partitions that have one set via SetPartitionExpiration.
type partitionExpirations map[*Partition]Timestamp

// SetPartitionExpiration records (or clears, with ZeroTimestamp) an
// explicit expiration instant for partitionKey's partition itself, the
// spec §3A supplemental feature consulted by the GC planner before its
// per-row scan.
func (t *Table) SetPartitionExpiration(partitionKey string, instant Timestamp) {
	p, exists := t.partitions[partitionKey]
	if !exists {
		return
	}
	if t.partitionExpirations == nil {
		t.partitionExpirations = make(partitionExpirations)
	}
	prev, had := t.partitionExpirations[p]
	if had && !prev.IsZero() {
		t.partitionExpiration.Remove(prev, p)
	}
	if instant.IsZero() {
		delete(t.partitionExpirations, p)
		return
	}
	t.partitionExpirations[p] = instant
	t.partitionExpiration.Add(instant, true, p)
}

func (t *Table) partitionExpirationOf(p *Partition) Timestamp {
	if t.partitionExpirations == nil {
		return ZeroTimestamp
	}
	return t.partitionExpirations[p]
}

// PartitionExpiration returns the explicit expiration instant set for
// partitionKey's partition, or the zero timestamp if none.
func (t *Table) PartitionExpiration(partitionKey string) Timestamp {
	p, exists := t.partitions[partitionKey]
	if !exists {
		return ZeroTimestamp
	}
	return t.partitionExpirationOf(p)
}

// PartitionsToExpire returns partitions whose explicit expiration
// instant is <= now.
func (t *Table) PartitionsToExpire(now Timestamp) []*Partition {
	return t.partitionExpiration.ItemsDue(now)
}

// PartitionsToGCByMax ranks partitions by LastWriteMoment ascending and
// returns the oldest len(partitions)-max as eviction victims.
func (t *Table) PartitionsToGCByMax(max int) []*Partition {
	if max <= 0 || len(t.partitions) <= max {
		return nil
	}
	all := t.Partitions()
	sort.Slice(all, func(i, j int) bool {
		return all[i].LastWriteMoment() < all[j].LastWriteMoment()
	})
	victimCount := len(all) - max
	return all[:victimCount]
}

// ClearTable removes every partition and returns the previous set.
func (t *Table) ClearTable() []*Partition {
	prev := t.Partitions()
	t.partitions = make(map[string]*Partition)
	t.order = nil
	t.partitionExpiration = NewExpirationIndex[*Partition]()
	t.partitionExpirations = nil
	return prev
}
