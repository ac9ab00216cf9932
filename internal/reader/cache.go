package reader

import (
	"sync"

	"kvmesh/internal/model"
	"kvmesh/internal/rowtype"
)

// RowKeyRef is a bare (partition key, row key) pair.
type RowKeyRef struct {
	PartitionKey string
	RowKey       string
}

// Callbacks are invoked by Cache's dispatch goroutine, never inline
// with the mutation that triggered them (spec §4.7, "dedicated
// single-consumer task").
type Callbacks[T rowtype.Entity] struct {
	InsertedOrReplaced func(partitionKey, rowKey string, cell *RowCell[T])
	Deleted            func(partitionKey, rowKey string)
}

type cacheEvent[T rowtype.Entity] struct {
	insertedOrReplaced bool
	partitionKey       string
	rowKey             string
	cell               *RowCell[T]
}

// Cache is the per-table mirror a reader connection keeps up to date.
// Mutations (InitTable/InitPartition/UpdateRows/DeleteRows) are
// applied under mu; callback dispatch happens asynchronously on a
// single goroutine reading from events so the mutation path never
// blocks on user code.
type Cache[T rowtype.Entity] struct {
	mu         sync.Mutex
	partitions map[string]map[string]*RowCell[T]
	serializer rowtype.Serializer[T]

	events    chan cacheEvent[T]
	callbacks Callbacks[T]
	done      chan struct{}
}

// NewCache builds an empty cache. Run must be started in its own
// goroutine to drain callback dispatch.
func NewCache[T rowtype.Entity](serializer rowtype.Serializer[T], callbacks Callbacks[T]) *Cache[T] {
	return &Cache[T]{
		partitions: make(map[string]map[string]*RowCell[T]),
		serializer: serializer,
		events:     make(chan cacheEvent[T], 1024),
		callbacks:  callbacks,
		done:       make(chan struct{}),
	}
}

// Run drains queued callback events until Close is called. Intended
// to run on its own goroutine for the cache's lifetime.
func (c *Cache[T]) Run() {
	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				return
			}
			c.dispatch(ev)
		case <-c.done:
			c.drainRemaining()
			return
		}
	}
}

func (c *Cache[T]) drainRemaining() {
	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				return
			}
			c.dispatch(ev)
		default:
			return
		}
	}
}

func (c *Cache[T]) dispatch(ev cacheEvent[T]) {
	if ev.insertedOrReplaced {
		if c.callbacks.InsertedOrReplaced != nil {
			c.callbacks.InsertedOrReplaced(ev.partitionKey, ev.rowKey, ev.cell)
		}
		return
	}
	if c.callbacks.Deleted != nil {
		c.callbacks.Deleted(ev.partitionKey, ev.rowKey)
	}
}

// Close stops Run and releases any resources. Safe to call once.
func (c *Cache[T]) Close() {
	close(c.done)
}

// InitTable replaces the whole cache with rows, diffing against the
// previous snapshot to fire per-partition callbacks (spec §4.7).
func (c *Cache[T]) InitTable(rows []*model.Row) {
	byPartition := groupByPartition(rows)

	c.mu.Lock()
	previous := c.partitions
	c.partitions = make(map[string]map[string]*RowCell[T])
	for pk, prows := range byPartition {
		c.partitions[pk] = c.buildPartition(prows)
	}
	c.mu.Unlock()

	c.emitDiff(previous, c.snapshot())
}

// InitPartition replaces one partition's rows wholesale.
func (c *Cache[T]) InitPartition(partitionKey string, rows []*model.Row) {
	c.mu.Lock()
	previous := c.partitions[partitionKey]
	next := c.buildPartition(rows)
	if len(next) == 0 {
		delete(c.partitions, partitionKey)
	} else {
		c.partitions[partitionKey] = next
	}
	c.mu.Unlock()

	c.emitPartitionDiff(partitionKey, previous, next)
}

// UpdateRows upserts rows into their partitions, firing
// InsertedOrReplaced for each.
func (c *Cache[T]) UpdateRows(rows []*model.Row) {
	for _, row := range rows {
		cell := NewRawCell[T](row, c.serializer)
		c.mu.Lock()
		pk := row.PartitionKey()
		if c.partitions[pk] == nil {
			c.partitions[pk] = make(map[string]*RowCell[T])
		}
		c.partitions[pk][row.RowKey()] = cell
		c.mu.Unlock()

		c.enqueue(cacheEvent[T]{insertedOrReplaced: true, partitionKey: pk, rowKey: row.RowKey(), cell: cell})
	}
}

// DeleteRows removes each ref, dropping partitions left empty, and
// fires Deleted for each removed row.
func (c *Cache[T]) DeleteRows(refs []RowKeyRef) {
	for _, ref := range refs {
		c.mu.Lock()
		bucket, ok := c.partitions[ref.PartitionKey]
		existed := false
		if ok {
			if _, present := bucket[ref.RowKey]; present {
				existed = true
				delete(bucket, ref.RowKey)
			}
			if len(bucket) == 0 {
				delete(c.partitions, ref.PartitionKey)
			}
		}
		c.mu.Unlock()

		if existed {
			c.enqueue(cacheEvent[T]{insertedOrReplaced: false, partitionKey: ref.PartitionKey, rowKey: ref.RowKey})
		}
	}
}

// Get returns the cell at (partitionKey, rowKey), or nil if absent.
func (c *Cache[T]) Get(partitionKey, rowKey string) *RowCell[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	bucket, ok := c.partitions[partitionKey]
	if !ok {
		return nil
	}
	return bucket[rowKey]
}

// PartitionKeys returns a snapshot of every partition key currently
// cached.
func (c *Cache[T]) PartitionKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.partitions))
	for k := range c.partitions {
		keys = append(keys, k)
	}
	return keys
}

func (c *Cache[T]) buildPartition(rows []*model.Row) map[string]*RowCell[T] {
	out := make(map[string]*RowCell[T], len(rows))
	for _, row := range rows {
		out[row.RowKey()] = NewRawCell[T](row, c.serializer)
	}
	return out
}

func (c *Cache[T]) snapshot() map[string]map[string]*RowCell[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]map[string]*RowCell[T], len(c.partitions))
	for pk, bucket := range c.partitions {
		copyBucket := make(map[string]*RowCell[T], len(bucket))
		for rk, cell := range bucket {
			copyBucket[rk] = cell
		}
		out[pk] = copyBucket
	}
	return out
}

func (c *Cache[T]) emitDiff(previous, next map[string]map[string]*RowCell[T]) {
	for pk, nextBucket := range next {
		c.emitPartitionDiff(pk, previous[pk], nextBucket)
	}
	for pk, prevBucket := range previous {
		if _, still := next[pk]; still {
			continue
		}
		for rk := range prevBucket {
			c.enqueue(cacheEvent[T]{insertedOrReplaced: false, partitionKey: pk, rowKey: rk})
		}
	}
}

func (c *Cache[T]) emitPartitionDiff(partitionKey string, previous, next map[string]*RowCell[T]) {
	for rk, cell := range next {
		c.enqueue(cacheEvent[T]{insertedOrReplaced: true, partitionKey: partitionKey, rowKey: rk, cell: cell})
	}
	for rk := range previous {
		if _, still := next[rk]; still {
			continue
		}
		c.enqueue(cacheEvent[T]{insertedOrReplaced: false, partitionKey: partitionKey, rowKey: rk})
	}
}

func (c *Cache[T]) enqueue(ev cacheEvent[T]) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func groupByPartition(rows []*model.Row) map[string][]*model.Row {
	out := make(map[string][]*model.Row)
	for _, row := range rows {
		out[row.PartitionKey()] = append(out[row.PartitionKey()], row)
	}
	return out
}
