// Package approxfilter holds the vocabulary shared by every filter
// implementation in this module: the error kinds a caller can test for with
// errors.Is, and the Hasher interface that internal/murmurhash's hashers
// implement.
package approxfilter

import "errors"

// ErrAllocationFailure is returned when a filter cannot obtain backing
// memory for construction or for an upsize.
var ErrAllocationFailure = errors.New("approxfilter: allocation failure")

// ErrCapacityExceeded is returned by Taffy-Block's InsertHash once its
// 48-level cap has been reached.
var ErrCapacityExceeded = errors.New("approxfilter: capacity exceeded")

// ErrInvariantViolation marks a condition the core treats as a bug rather
// than an expected runtime outcome (e.g. both cuckoo stashes full at once).
var ErrInvariantViolation = errors.New("approxfilter: invariant violation")

// Hasher turns an arbitrary byte-string key into the uint64 every filter's
// *Hash methods consume. Filters are specified purely in terms of
// pre-hashed uint64s (spec §3). The []byte convenience wrappers (Add,
// Contains) hash with murmurhash.Default; none of them takes a Hasher.
type Hasher interface {
	Sum64([]byte) uint64
}
