// Package murmurhash provides the byte-key hashing used by the convenience
// wrappers on every public filter type. The default hasher is
// aviddiviner/go-murmur's MurmurHash64A, matching the teacher package's use
// of the same function for its CuckooFilter and count-min sketch. An
// xxhash-backed alternative is offered for callers who prefer it.
package murmurhash

import (
	murmur "github.com/aviddiviner/go-murmur"
	"github.com/cespare/xxhash/v2"
)

// Murmur hashes a byte key with MurmurHash64A, seeded with 0 (the teacher's
// convention in cuckoofilter.go's buildParams).
type Murmur struct{}

// Sum64 implements approxfilter.Hasher.
func (Murmur) Sum64(b []byte) uint64 { return murmur.MurmurHash64A(b, 0) }

// XXHash hashes a byte key with xxhash, for callers who want a faster
// non-cgo hash than murmur without reaching for a different library
// entirely.
type XXHash struct{}

// Sum64 implements approxfilter.Hasher.
func (XXHash) Sum64(b []byte) uint64 { return xxhash.Sum64(b) }

// Default is the hasher every filter's byte-key convenience wrapper uses;
// the wrappers take no other hasher.
var Default Murmur
