package model

import "sync/atomic"

// ByteRange is a half-open [Start, End) span of bytes inside a Row's raw
// buffer, used by the position model (internal/entity) so reserved
// fields can be read or spliced without reparsing the document.
type ByteRange struct {
	Start int
	End   int
}

// Len reports the width of the range in bytes.
func (r ByteRange) Len() int { return r.End - r.Start }

// Slice returns the bytes the range covers. Panics if the range points
// past the end of buf; this is the one invariant-violation panic
// reserved for genuinely impossible states (spec §7).
func (r ByteRange) Slice(buf []byte) []byte {
	if r.End > len(buf) || r.Start < 0 || r.Start > r.End {
		panic("model: byte range out of bounds")
	}
	return buf[r.Start:r.End]
}

// FieldRange is the byte-range pair for a key/value field as found by
// the position scanner: Key spans the quoted key token, Value spans
// the value token. Kept together (rather than just Value) because
// splicing a field out of a buffer needs the key's start position too.
type FieldRange struct {
	Key   ByteRange
	Value ByteRange
}

// Row owns the raw bytes for one stored JSON object plus the atomic
// cells that let readers update last-access/expiration statistics
// without taking the owning table's lock.
type Row struct {
	raw []byte

	partitionKeyPos ByteRange
	rowKeyPos       ByteRange
	timeStampPos    ByteRange
	expiresPos      *FieldRange

	// partitionKey/rowKey are shared immutable strings extracted once at
	// construction so map keys and accessors never re-slice raw.
	partitionKey string
	rowKey       string
	timeStamp    Timestamp

	// expiresValue is microseconds since epoch, 0 = no expiration. It is
	// authoritative over expiresPos' byte contents: expiresPos only
	// matters when a snapshot of raw is requested (internal/entity's
	// rewrite-on-serialize path).
	expiresValue atomic.Int64

	// lastReadAccess is updated lock-free by readers on every access;
	// initialised to the row's own timestamp.
	lastReadAccess atomic.Int64
}

// NewRow constructs a Row from an already-normalised raw buffer (one
// that has passed through the entity parser/compiler) and its resolved
// position ranges.
func NewRow(raw []byte, partitionKey, rowKey string, partitionKeyPos, rowKeyPos, timeStampPos ByteRange, timeStamp Timestamp, expiresPos *FieldRange, expiresValue Timestamp) *Row {
	r := &Row{
		raw:             raw,
		partitionKeyPos: partitionKeyPos,
		rowKeyPos:       rowKeyPos,
		timeStampPos:    timeStampPos,
		expiresPos:      expiresPos,
		partitionKey:    partitionKey,
		rowKey:          rowKey,
		timeStamp:       timeStamp,
	}
	r.expiresValue.Store(int64(expiresValue))
	r.lastReadAccess.Store(int64(timeStamp))
	return r
}

// Raw returns the immutable raw buffer. Callers must not mutate it.
func (r *Row) Raw() []byte { return r.raw }

// PartitionKey returns the row's partition key.
func (r *Row) PartitionKey() string { return r.partitionKey }

// RowKey returns the row's row key.
func (r *Row) RowKey() string { return r.rowKey }

// TimeStamp returns the row's own TimeStamp field, as recorded at
// construction. This is distinct from LastReadAccess.
func (r *Row) TimeStamp() Timestamp { return r.timeStamp }

// PartitionKeyRange exposes the byte range backing PartitionKey, for
// callers doing position-model splicing.
func (r *Row) PartitionKeyRange() ByteRange { return r.partitionKeyPos }

// RowKeyRange exposes the byte range backing RowKey.
func (r *Row) RowKeyRange() ByteRange { return r.rowKeyPos }

// TimeStampRange exposes the byte range backing TimeStamp.
func (r *Row) TimeStampRange() ByteRange { return r.timeStampPos }

// ExpiresRange exposes the key/value byte ranges backing Expires, or
// nil if the raw buffer never carried the field.
func (r *Row) ExpiresRange() *FieldRange { return r.expiresPos }

// Expires returns the current expiration instant, 0 meaning "none".
// Lock-free: safe to call without the owning table's lock.
func (r *Row) Expires() Timestamp {
	return Timestamp(r.expiresValue.Load())
}

// LastReadAccess returns the last-read instant. Lock-free.
func (r *Row) LastReadAccess() Timestamp {
	return Timestamp(r.lastReadAccess.Load())
}

// Touch updates LastReadAccess to now. Lock-free; called on every read
// path that should count toward LRU ranking.
func (r *Row) Touch(now Timestamp) {
	r.lastReadAccess.Store(int64(now))
}

// UpdateExpires atomically sets a new expiration instant and returns
// the previous value, so the caller (Partition.UpdateExpirationTime)
// can fix up its expiration index. Passing ZeroTimestamp clears the
// expiration.
func (r *Row) UpdateExpires(next Timestamp) (previous Timestamp) {
	previous = Timestamp(r.expiresValue.Swap(int64(next)))
	return previous
}
