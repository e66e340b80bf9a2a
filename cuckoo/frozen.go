package cuckoo

import "github.com/fukua95/approxfilter/internal/feistel"

// frozenBucket packs four head-size fingerprints (one per slot) into a
// single uint64, tightly at multiples of headSize bits, so FindHash can
// test all four at once with a SWAR trick instead of four separate
// comparisons.
type frozenBucket uint64

func packFrozenBucket(b bucket) frozenBucket {
	var v uint64
	for i := 0; i < numSlots; i++ {
		v |= uint64(b[i].Fingerprint) << uint(headSize*i)
	}
	return frozenBucket(v)
}

const (
	hasZeroSub   = 0x40100401
	hasZeroGuard = 0x8020080200
)

func hasZero10(x uint64) uint64 {
	return (x - hasZeroSub) & ^x & hasZeroGuard
}

func hasValue10(x uint64, n uint64) uint64 {
	return hasZero10(x ^ (hasZeroSub * n))
}

// Frozen is a read-optimized snapshot of a Taffy-Cuckoo filter: buckets
// store only packed fingerprints (no tails), trading a slightly higher fpp
// and the loss of insert for a smaller, branch-light FindHash.
type Frozen struct {
	hash        [2]feistel.Feistel
	logSideSize int
	data        [2][]frozenBucket
	stash       [2][]uint64
}

// Freeze produces a read-only snapshot of f. Stash entries are stored as
// the (bucket<<headSize)|fingerprint value they would hash to, which is
// exactly what FindHash recomputes for a query — recovering and
// re-permuting the original raw bits (as the reference implementation's
// from_path_no_tail/to_path round trip does) is unnecessary and, done
// naively, fails to reproduce the value FindHash actually compares against.
func (f *Filter) Freeze() *Frozen {
	out := &Frozen{logSideSize: f.logSideSize}
	for i := 0; i < 2; i++ {
		out.hash[i] = f.sides[i].f
		out.data[i] = make([]frozenBucket, len(f.sides[i].data))
		for j, b := range f.sides[i].data {
			out.data[i][j] = packFrozenBucket(b)
		}
		out.stash[i] = make([]uint64, len(f.sides[i].stash))
		for j, p := range f.sides[i].stash {
			out.stash[i][j] = (p.Bucket << headSize) | uint64(p.Slot.Fingerprint)
		}
	}
	return out
}

// FindHash reports whether hash was possibly inserted into the filter this
// snapshot was frozen from. Only the fingerprint is compared (no tail), so
// the false positive probability is marginally higher than the live
// filter's.
func (fz *Frozen) FindHash(hash uint64) bool {
	for i := 0; i < 2; i++ {
		y := hash >> uint(64-fz.logSideSize-headSize)
		permuted := fz.hash[i].PermuteForward(fz.logSideSize+headSize, y)
		for _, s := range fz.stash[i] {
			if s == permuted {
				return true
			}
		}
		bucketIdx := permuted >> headSize
		fingerprint := permuted & ((1 << headSize) - 1)
		if fingerprint == 0 {
			return true
		}
		if hasValue10(uint64(fz.data[i][bucketIdx]), fingerprint) != 0 {
			return true
		}
	}
	return false
}

// SizeInBytes returns the snapshot's heap footprint.
func (fz *Frozen) SizeInBytes() uint64 {
	total := uint64(0)
	for i := 0; i < 2; i++ {
		total += uint64(len(fz.data[i])) * 8
		total += uint64(len(fz.stash[i])) * 8
	}
	return total
}
