package model

import "sort"

// Partition is an ordered map from row key to Row, plus the
// row-expiration index for the rows it owns (spec §4.3).
//
// Partition itself does not take a lock: the master table store holds
// one exclusive lock per table and only calls into Partition while
// holding it for structural mutation. Row-level atomic cells
// (LastReadAccess, Expires) remain readable without that lock.
type Partition struct {
	partitionKey string
	rows         map[string]*Row
	// order keeps row keys sorted so RangeBelow can walk ascending
	// without a full sort on every call.
	order            []string
	expiration       *ExpirationIndex[*Row]
	lastWriteMoment  Timestamp
}

// NewPartition creates an empty partition for partitionKey.
func NewPartition(partitionKey string) *Partition {
	return &Partition{
		partitionKey: partitionKey,
		rows:         make(map[string]*Row),
		expiration:   NewExpirationIndex[*Row](),
	}
}

// PartitionKey returns the partition's key.
func (p *Partition) PartitionKey() string { return p.partitionKey }

// Len returns the number of rows in the partition.
func (p *Partition) Len() int { return len(p.rows) }

// LastWriteMoment returns the last time a row was written into this
// partition, used by the GC planner's max-partitions victim ranking.
func (p *Partition) LastWriteMoment() Timestamp { return p.lastWriteMoment }

// TouchWrite records now as the partition's last write moment.
func (p *Partition) TouchWrite(now Timestamp) {
	if !now.IsZero() {
		p.lastWriteMoment = now
	}
}

// Get returns the row at rowKey, or nil if absent.
func (p *Partition) Get(rowKey string) *Row {
	return p.rows[rowKey]
}

// Rows returns every row in the partition, in ascending row-key order. The
// caller receives additional shared handles; rows may outlive removal
// from the partition (spec "Ownership").
func (p *Partition) Rows() []*Row {
	out := make([]*Row, 0, len(p.rows))
	for _, k := range p.order {
		out = append(out, p.rows[k])
	}
	return out
}

// Insert overwrites any previous row at row.RowKey(), fixing up the
// expiration index: the new expiration is added, and if a previous row
// existed with a non-zero expiration it is removed first.
func (p *Partition) Insert(row *Row) {
	key := row.RowKey()
	if old, exists := p.rows[key]; exists {
		if oldExp := old.Expires(); !oldExp.IsZero() {
			p.expiration.Remove(oldExp, old)
		}
	} else {
		p.insertOrder(key)
	}
	p.rows[key] = row
	if exp := row.Expires(); !exp.IsZero() {
		p.expiration.Add(exp, true, row)
	}
}

// Remove detaches the row at rowKey, unhooking it from the expiration
// index if present. Returns the removed row, or nil if it was absent.
func (p *Partition) Remove(rowKey string) *Row {
	row, exists := p.rows[rowKey]
	if !exists {
		return nil
	}
	delete(p.rows, rowKey)
	p.removeOrder(rowKey)
	if exp := row.Expires(); !exp.IsZero() {
		p.expiration.Remove(exp, row)
	}
	return row
}

// RangeBelow returns rows with keys strictly less than rowKey in
// ascending order. With limit > 0 it keeps only the limit keys closest
// below rowKey (0 meaning unlimited). Returns nil if there is nothing
// to return.
func (p *Partition) RangeBelow(rowKey string, limit int) []*Row {
	i := sort.SearchStrings(p.order, rowKey)
	if i == 0 {
		return nil
	}
	start := 0
	if limit > 0 && i-limit > 0 {
		start = i - limit
	}
	out := make([]*Row, 0, i-start)
	for _, k := range p.order[start:i] {
		out = append(out, p.rows[k])
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// UpdateExpirationTime atomically sets rowKey's expiration and fixes up
// the expiration index. A no-op if the row is absent or old == new.
func (p *Partition) UpdateExpirationTime(rowKey string, next Timestamp) {
	row, exists := p.rows[rowKey]
	if !exists {
		return
	}
	prev := row.UpdateExpires(next)
	if prev == next {
		return
	}
	if !prev.IsZero() {
		p.expiration.Remove(prev, row)
	}
	if !next.IsZero() {
		p.expiration.Add(next, true, row)
	}
}

// RowsToExpire returns rows whose stored expiration instant is <= now.
func (p *Partition) RowsToExpire(now Timestamp) []*Row {
	return p.expiration.ItemsDue(now)
}

// RowsToGCByMax ranks rows by LastReadAccess ascending and returns the
// oldest len(rows)-max rows as eviction victims. Returns nil if the
// partition is within budget.
func (p *Partition) RowsToGCByMax(max int) []*Row {
	if max <= 0 || len(p.rows) <= max {
		return nil
	}
	all := p.Rows()
	sort.Slice(all, func(i, j int) bool {
		return all[i].LastReadAccess() < all[j].LastReadAccess()
	})
	victimCount := len(all) - max
	return all[:victimCount]
}

func (p *Partition) insertOrder(key string) {
	i := sort.SearchStrings(p.order, key)
	p.order = append(p.order, "")
	copy(p.order[i+1:], p.order[i:])
	p.order[i] = key
}

func (p *Partition) removeOrder(key string) {
	i := sort.SearchStrings(p.order, key)
	if i < len(p.order) && p.order[i] == key {
		p.order = append(p.order[:i], p.order[i+1:]...)
	}
}
