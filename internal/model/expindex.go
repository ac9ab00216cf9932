package model

import "sort"

// ExpirationIndex is a time-ordered multimap from an expiration instant
// (microseconds since epoch) to the items expiring then. It is generic
// over the item type so the same structure backs both the table's
// partition-expiration index and each partition's row-expiration index
// (spec §4.6).
//
// Item identity for Remove is value equality, which is why T is
// constrained to comparable: rows and partitions are always referenced
// by pointer, so identity equality is pointer equality; partition keys
// stored by value compare as plain strings.
type ExpirationIndex[T comparable] struct {
	buckets map[int64][]T
	// keys is buckets' key set kept sorted ascending so ItemsDue can
	// stop at the first bucket strictly after now without scanning the
	// whole map.
	keys []int64
	size int
}

// NewExpirationIndex returns an empty index.
func NewExpirationIndex[T comparable]() *ExpirationIndex[T] {
	return &ExpirationIndex[T]{buckets: make(map[int64][]T)}
}

// Len returns the total number of items tracked, not the bucket count.
func (idx *ExpirationIndex[T]) Len() int { return idx.size }

// Add registers item under instant. A nil instant (represented by the
// caller passing ok=false) is a no-op, so callers can pass optional
// expirations through uniformly instead of branching.
func (idx *ExpirationIndex[T]) Add(instant Timestamp, ok bool, item T) {
	if !ok || instant.IsZero() {
		return
	}
	k := int64(instant)
	if _, exists := idx.buckets[k]; !exists {
		idx.insertKey(k)
	}
	idx.buckets[k] = append(idx.buckets[k], item)
	idx.size++
}

// Remove drops item from the bucket at instant, matching by value
// equality. It is a no-op if the instant or item is not present. The
// bucket key is dropped once its slice empties.
func (idx *ExpirationIndex[T]) Remove(instant Timestamp, item T) {
	if instant.IsZero() {
		return
	}
	k := int64(instant)
	bucket, exists := idx.buckets[k]
	if !exists {
		return
	}
	for i, v := range bucket {
		if v == item {
			bucket = append(bucket[:i], bucket[i+1:]...)
			idx.size--
			break
		}
	}
	if len(bucket) == 0 {
		delete(idx.buckets, k)
		idx.removeKey(k)
		return
	}
	idx.buckets[k] = bucket
}

// ItemsDue returns every item whose bucket instant is <= now, walking
// buckets in ascending order and stopping at the first bucket strictly
// after now. Complexity is O(k + log n) where k is the due count.
func (idx *ExpirationIndex[T]) ItemsDue(now Timestamp) []T {
	limit := int64(now)
	var due []T
	for _, k := range idx.keys {
		if k > limit {
			break
		}
		due = append(due, idx.buckets[k]...)
	}
	return due
}

func (idx *ExpirationIndex[T]) insertKey(k int64) {
	i := sort.Search(len(idx.keys), func(i int) bool { return idx.keys[i] >= k })
	idx.keys = append(idx.keys, 0)
	copy(idx.keys[i+1:], idx.keys[i:])
	idx.keys[i] = k
}

func (idx *ExpirationIndex[T]) removeKey(k int64) {
	i := sort.Search(len(idx.keys), func(i int) bool { return idx.keys[i] >= k })
	if i < len(idx.keys) && idx.keys[i] == k {
		idx.keys = append(idx.keys[:i], idx.keys[i+1:]...)
	}
}
