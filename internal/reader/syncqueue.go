package reader

import (
	"sync"

	"kvmesh/internal/model"
	"kvmesh/internal/wire"
)

// SyncQueue is the reader-side outbound statistics queue described in
// spec §4.8: four logical, best-effort-coalesced queues feeding one
// strictly-one-outstanding delivery pipeline per connection.
type SyncQueue struct {
	mu sync.Mutex

	nextConfirmationID int64
	outstanding         *pendingEvent

	partitionReads      map[string]map[string]struct{}            // table -> partition keys
	partitionExpiration map[string]map[string]model.Timestamp     // table -> pk -> expiration
	rowReads            map[rowQueueKey]map[string]struct{}       // (table,pk) -> row keys
	rowExpiration       map[rowQueueKey]*rowExpirationBatch        // (table,pk) -> {rowKeys, expiration}
}

type rowQueueKey struct {
	table        string
	partitionKey string
}

type rowExpirationBatch struct {
	rowKeys    map[string]struct{}
	expiration model.Timestamp
}

type pendingEvent struct {
	confirmationID int64
	frame          wire.Frame
	// requeue rebuilds this event's contribution into the coalescing
	// maps if the connection drops before confirmation arrives.
	requeue func(q *SyncQueue)
}

// NewSyncQueue builds an empty outbound queue.
func NewSyncQueue() *SyncQueue {
	return &SyncQueue{
		partitionReads:      make(map[string]map[string]struct{}),
		partitionExpiration: make(map[string]map[string]model.Timestamp),
		rowReads:            make(map[rowQueueKey]map[string]struct{}),
		rowExpiration:       make(map[rowQueueKey]*rowExpirationBatch),
	}
}

// TouchPartitions merges partitionKeys into table's last-read-time set.
func (q *SyncQueue) TouchPartitions(table string, partitionKeys []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	set := q.partitionReads[table]
	if set == nil {
		set = make(map[string]struct{})
		q.partitionReads[table] = set
	}
	for _, pk := range partitionKeys {
		set[pk] = struct{}{}
	}
}

// SetPartitionExpiration merges an expiration update for table/pk,
// last write winning if already queued.
func (q *SyncQueue) SetPartitionExpiration(table, partitionKey string, expiration model.Timestamp) {
	q.mu.Lock()
	defer q.mu.Unlock()
	m := q.partitionExpiration[table]
	if m == nil {
		m = make(map[string]model.Timestamp)
		q.partitionExpiration[table] = m
	}
	m[partitionKey] = expiration
}

// TouchRows merges rowKeys into (table, partitionKey)'s last-read-time set.
func (q *SyncQueue) TouchRows(table, partitionKey string, rowKeys []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := rowQueueKey{table: table, partitionKey: partitionKey}
	set := q.rowReads[key]
	if set == nil {
		set = make(map[string]struct{})
		q.rowReads[key] = set
	}
	for _, rk := range rowKeys {
		set[rk] = struct{}{}
	}
}

// SetRowsExpiration merges an expiration update for a batch of rows
// within (table, partitionKey). Per spec, one expiration value applies
// to the whole (table, pk) queue entry; a later call overwrites it.
func (q *SyncQueue) SetRowsExpiration(table, partitionKey string, rowKeys []string, expiration model.Timestamp) {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := rowQueueKey{table: table, partitionKey: partitionKey}
	batch := q.rowExpiration[key]
	if batch == nil {
		batch = &rowExpirationBatch{rowKeys: make(map[string]struct{})}
		q.rowExpiration[key] = batch
	}
	for _, rk := range rowKeys {
		batch.rowKeys[rk] = struct{}{}
	}
	batch.expiration = expiration
}

// Next returns the next frame to send, or nil if nothing is queued or
// an event is already outstanding awaiting confirmation. Call
// Confirm/Requeue to clear the outstanding slot.
func (q *SyncQueue) Next() wire.Frame {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.outstanding != nil {
		return nil
	}

	if ev := q.popPartitionReads(); ev != nil {
		return q.arm(ev)
	}
	if ev := q.popPartitionExpiration(); ev != nil {
		return q.arm(ev)
	}
	if ev := q.popRowReads(); ev != nil {
		return q.arm(ev)
	}
	if ev := q.popRowExpiration(); ev != nil {
		return q.arm(ev)
	}
	return nil
}

func (q *SyncQueue) arm(ev *pendingEvent) wire.Frame {
	q.outstanding = ev
	return ev.frame
}

// Confirm clears the outstanding slot if id matches; a mismatched id
// is logged by the caller and discarded (spec §4.8).
func (q *SyncQueue) Confirm(id int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.outstanding == nil || q.outstanding.confirmationID != id {
		return false
	}
	q.outstanding = nil
	return true
}

// Requeue returns the outstanding event to the front of its queue for
// redelivery on the next connection, per spec's reconnect-safe rule.
func (q *SyncQueue) Requeue() {
	q.mu.Lock()
	ev := q.outstanding
	q.outstanding = nil
	q.mu.Unlock()
	if ev != nil && ev.requeue != nil {
		ev.requeue(q)
	}
}

func (q *SyncQueue) nextID() int64 {
	q.nextConfirmationID++
	return q.nextConfirmationID
}

func (q *SyncQueue) popPartitionReads() *pendingEvent {
	for table, set := range q.partitionReads {
		if len(set) == 0 {
			continue
		}
		keys := make([]string, 0, len(set))
		for k := range set {
			keys = append(keys, k)
		}
		delete(q.partitionReads, table)
		id := q.nextID()
		return &pendingEvent{
			confirmationID: id,
			frame: wire.UpdatePartitionsLastReadTime{
				Version: 0, ConfirmationID: id, Table: table, PartitionKeys: keys,
			},
			requeue: func(rq *SyncQueue) { rq.TouchPartitions(table, keys) },
		}
	}
	return nil
}

func (q *SyncQueue) popPartitionExpiration() *pendingEvent {
	for table, m := range q.partitionExpiration {
		if len(m) == 0 {
			continue
		}
		entries := make([]wire.PartitionExpirationEntry, 0, len(m))
		for pk, exp := range m {
			entries = append(entries, wire.PartitionExpirationEntry{PartitionKey: pk, Expiration: int64(exp)})
		}
		delete(q.partitionExpiration, table)
		id := q.nextID()
		return &pendingEvent{
			confirmationID: id,
			frame: wire.UpdatePartitionsExpirationTime{
				Version: 0, ConfirmationID: id, Table: table, Entries: entries,
			},
			requeue: func(rq *SyncQueue) {
				for _, e := range entries {
					rq.SetPartitionExpiration(table, e.PartitionKey, model.Timestamp(e.Expiration))
				}
			},
		}
	}
	return nil
}

func (q *SyncQueue) popRowReads() *pendingEvent {
	for key, set := range q.rowReads {
		if len(set) == 0 {
			continue
		}
		keys := make([]string, 0, len(set))
		for k := range set {
			keys = append(keys, k)
		}
		delete(q.rowReads, key)
		id := q.nextID()
		return &pendingEvent{
			confirmationID: id,
			frame: wire.UpdateRowsLastReadTime{
				Version: 0, ConfirmationID: id, Table: key.table, PartitionKey: key.partitionKey, RowKeys: keys,
			},
			requeue: func(rq *SyncQueue) { rq.TouchRows(key.table, key.partitionKey, keys) },
		}
	}
	return nil
}

func (q *SyncQueue) popRowExpiration() *pendingEvent {
	for key, batch := range q.rowExpiration {
		if len(batch.rowKeys) == 0 {
			continue
		}
		keys := make([]string, 0, len(batch.rowKeys))
		for k := range batch.rowKeys {
			keys = append(keys, k)
		}
		expiration := batch.expiration
		delete(q.rowExpiration, key)
		id := q.nextID()
		return &pendingEvent{
			confirmationID: id,
			frame: wire.UpdateRowsExpirationTime{
				Version: 0, ConfirmationID: id, Table: key.table, PartitionKey: key.partitionKey,
				RowKeys: keys, Expiration: int64(expiration),
			},
			requeue: func(rq *SyncQueue) { rq.SetRowsExpiration(key.table, key.partitionKey, keys, expiration) },
		}
	}
	return nil
}

// Len reports the number of distinct coalesced entries still queued
// (not counting the outstanding, in-flight event), for telemetry.
func (q *SyncQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, set := range q.partitionReads {
		if len(set) > 0 {
			n++
		}
	}
	for _, m := range q.partitionExpiration {
		if len(m) > 0 {
			n++
		}
	}
	for _, set := range q.rowReads {
		if len(set) > 0 {
			n++
		}
	}
	for _, batch := range q.rowExpiration {
		if len(batch.rowKeys) > 0 {
			n++
		}
	}
	return n
}
