// Package handles keeps a bounded set of open archives so repeated reads from
// the same archive reuse one handle.
//
// The cache holds at most one handle per archive path and evicts the least
// recently used handle once capacity is exceeded. Handles are reference
// counted through leases: an evicted handle stays open until its last lease
// is released, so a reader never sees its archive closed underneath it. For
// archives that only support forward reads, a lease also holds that
// archive's read lock, which serializes reads per archive while different
// archives proceed in parallel.
package handles
