// Package bucketmap provides a keyed append-only buffer with a cached
// rolling total, used by the graph store to batch graph objects per bucket
// path until a flush threshold is reached.
//
// A BucketMap is NOT safe for concurrent mutation. The owning store
// serializes access; keeping the container lock-free keeps the flush
// snapshot-and-delete protocol simple.
package bucketmap

// BucketMap maps a string bucket path to an ordered sequence of items and
// maintains a running total across all buckets. Insertion order is
// preserved within a bucket; no ordering is guaranteed across buckets.
type BucketMap[T any] struct {
	buckets map[string][]T
	total   int
}

// New creates an empty BucketMap.
func New[T any]() *BucketMap[T] {
	return &BucketMap[T]{
		buckets: make(map[string][]T),
	}
}

// Add appends items to the bucket at path, creating the bucket if needed.
func (m *BucketMap[T]) Add(path string, items []T) {
	if len(items) == 0 {
		return
	}
	m.buckets[path] = append(m.buckets[path], items...)
	m.total += len(items)
}

// Get returns the items stored at path in insertion order. The returned
// slice is the live backing slice; callers must not mutate it.
func (m *BucketMap[T]) Get(path string) []T {
	return m.buckets[path]
}

// Delete removes the bucket at path and subtracts its length from the
// running total. Deleting an absent bucket is a no-op.
func (m *BucketMap[T]) Delete(path string) {
	items, ok := m.buckets[path]
	if !ok {
		return
	}
	m.total -= len(items)
	delete(m.buckets, path)
}

// Keys returns the bucket paths in unspecified order.
func (m *BucketMap[T]) Keys() []string {
	keys := make([]string, 0, len(m.buckets))
	for k := range m.buckets {
		keys = append(keys, k)
	}
	return keys
}

// TotalItemCount returns the number of items across all buckets.
func (m *BucketMap[T]) TotalItemCount() int {
	return m.total
}
