// Package block implements a split-block Bloom filter (Putze, Sanders,
// Singler, "Cache-, Hash- and Space-Efficient Bloom Filters"): a cache-line
// sized bucket of A=8 lanes of W=32-bit words, a constant eight bits set per
// insert, and a bucket chosen by the high bits of the hash so that an
// insert or a find touches exactly one cache line.
package block

import (
	"encoding/binary"
	"math"
	"runtime"

	"github.com/fukua95/approxfilter"
	"github.com/fukua95/approxfilter/internal/memregion"
	"github.com/fukua95/approxfilter/internal/murmurhash"
)

const (
	lanes     = 8  // A
	wordBits  = 32 // W
	bucketLen = lanes * wordBits / 8 // bytes per bucket, canonically 32
)

// internalHashSeeds mirrors LIBFILTER_INTERNAL_HASH_SEEDS: four 64-bit
// constants, each split into two 32-bit lane seeds, giving the eight lane
// seeds used by MakeMask.
var internalHashSeeds = [4]uint64{
	0x47b6137b44974d91, 0x8824ad5ba2b7289d,
	0x705495c72df1424b, 0x9efc49475c6bfb31,
}

func laneSeed(i int) uint32 {
	word := internalHashSeeds[i/2]
	if i%2 == 0 {
		return uint32(word)
	}
	return uint32(word >> 32)
}

// Filter is a fixed-capacity split-block Bloom filter.
type Filter struct {
	numBuckets uint64
	region     memregion.Region
}

// index computes the bucket selected by hash via the high-multiplication
// mapping floor(hash*numBuckets / 2^64).
func index(hash, numBuckets uint64) uint64 {
	hi, _ := bitsMul64(hash, numBuckets)
	return hi
}

// bitsMul64 returns the 128-bit product of x*y as (high, low).
func bitsMul64(x, y uint64) (hi, lo uint64) {
	const mask32 = 0xffffffff
	x0, x1 := x&mask32, x>>32
	y0, y1 := y&mask32, y>>32
	w0 := x0 * y0
	t := x1*y0 + (w0 >> 32)
	w1 := t & mask32
	w2 := t >> 32
	w1 += x0 * y1
	hi = x1*y1 + w2 + (w1 >> 32)
	lo = x * y
	return hi, lo
}

// makeMask derives the eight lane bit positions from the low 32 bits of
// hash, one bit per lane, as in libfilter_block_scalar_make_mask.
func makeMask(hash uint64) [lanes]uint32 {
	h32 := uint32(hash)
	var mask [lanes]uint32
	for i := 0; i < lanes; i++ {
		pos := (h32 * laneSeed(i)) >> (wordBits - 5)
		mask[i] = uint32(1) << pos
	}
	return mask
}

func (f *Filter) bucketWords(i uint64) []byte {
	off := i * bucketLen
	return f.region.Block[off : off+bucketLen]
}

func loadLane(buf []byte, i int) uint32 {
	return binary.LittleEndian.Uint32(buf[4*i:])
}

func storeLane(buf []byte, i int, v uint32) {
	binary.LittleEndian.PutUint32(buf[4*i:], v)
}

// New constructs a filter with at most heapSpace bytes of backing storage,
// rounded down to a whole number of 32-byte buckets (minimum one bucket).
func New(heapSpace uint64) (*Filter, error) {
	alloc := memregion.AllocAtMost(heapSpace, bucketLen)
	if alloc.BlockBytes == 0 {
		return nil, approxfilter.ErrAllocationFailure
	}
	f := &Filter{numBuckets: alloc.BlockBytes / bucketLen, region: alloc.Region}
	runtime.SetFinalizer(f, (*Filter).Close)
	return f, nil
}

// NewWithNDVFPP constructs a filter sized to hold ndv distinct values at
// false positive probability fpp.
func NewWithNDVFPP(ndv uint64, fpp float64) (*Filter, error) {
	return New(BytesNeeded(float64(ndv), fpp))
}

// Close releases the filter's backing storage, mirroring
// libfilter_block_destroy's pairing with the allocator. For filters whose
// storage was never mmap'd (e.g. those produced by Clone) it only drops the
// reference to the payload. It is safe to call more than once; the filter
// must not be used after Close. Callers that allocate many filters
// whose size happens to land on a huge-page boundary should call Close
// explicitly rather than rely on the finalizer registered by New.
func (f *Filter) Close() error {
	runtime.SetFinalizer(f, nil)
	return memregion.Free(&f.region)
}

// SizeInBytes returns the filter's heap footprint.
func (f *Filter) SizeInBytes() uint64 { return f.numBuckets * bucketLen }

// AddHash inserts a pre-hashed 64-bit value.
func (f *Filter) AddHash(hash uint64) {
	idx := index(hash, f.numBuckets)
	mask := makeMask(hash)
	buf := f.bucketWords(idx)
	for i := 0; i < lanes; i++ {
		storeLane(buf, i, loadLane(buf, i)|mask[i])
	}
}

// FindHash reports whether hash was (possibly spuriously) previously added.
func (f *Filter) FindHash(hash uint64) bool {
	idx := index(hash, f.numBuckets)
	mask := makeMask(hash)
	buf := f.bucketWords(idx)
	for i := 0; i < lanes; i++ {
		if loadLane(buf, i)&mask[i] != mask[i] {
			return false
		}
	}
	return true
}

// Add hashes key with the default hasher and inserts it.
func (f *Filter) Add(key []byte) { f.AddHash(murmurhash.Default.Sum64(key)) }

// Contains hashes key with the default hasher and looks it up.
func (f *Filter) Contains(key []byte) bool { return f.FindHash(murmurhash.Default.Sum64(key)) }

// Clone deep-copies the filter.
func (f *Filter) Clone() *Filter {
	return &Filter{numBuckets: f.numBuckets, region: memregion.Clone(&f.region)}
}

// Equal reports whether two filters have the same bucket count and
// byte-identical payloads.
func (f *Filter) Equal(other *Filter) bool {
	if f.numBuckets != other.numBuckets {
		return false
	}
	a, b := f.region.Block, other.region.Block
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ZeroOut clears the filter's payload in place without reallocating.
func (f *Filter) ZeroOut() { memregion.Clear(&f.region) }

// Serialize writes the filter's buckets little-endian, 8 lanes of 4 bytes
// each, with no framing (no bucket count is written): the caller must know
// the byte size out-of-band to deserialize correctly.
func (f *Filter) Serialize() []byte {
	out := make([]byte, len(f.region.Block))
	copy(out, f.region.Block)
	return out
}

// Deserialize ORs the serialized bytes into a freshly allocated, zeroed
// filter of len(data) bytes rounded down to whole buckets. The new filter's
// size is taken from the input, so a concatenation of two serializations
// yields a filter of twice the size holding both payloads side by side, not
// their union.
func Deserialize(data []byte) (*Filter, error) {
	f, err := New(uint64(len(data)))
	if err != nil {
		return nil, err
	}
	n := uint64(len(data)) / bucketLen * bucketLen
	for i := uint64(0); i < n; i++ {
		f.region.Block[i] |= data[i]
	}
	return f, nil
}

// FPP returns the Putze split-block model false positive probability for
// ndv distinct values stored in bytes of space (equation 3 of Putze et
// al.), for the canonical A=8, W=32, hash_bits=32 configuration.
func FPP(ndv, bytesF float64) float64 {
	return fppDetail(ndv, bytesF, wordBits, lanes, 32)
}

// Capacity returns the number of distinct values that fit in bytes of
// space without exceeding fpp.
func Capacity(bytes uint64, fpp float64) uint64 {
	return capacityDetail(bytes, fpp, wordBits, lanes, 32)
}

// BytesNeeded returns the bytes required to hold ndv distinct values at
// false positive probability fpp, rounded up to a whole bucket.
func BytesNeeded(ndv, fpp float64) uint64 {
	return bytesNeededDetail(ndv, fpp, wordBits, lanes, 32)
}

func fppDetail(ndv, bytesF, wordBitsF, bucketWords, hashBits float64) float64 {
	if ndv == 0 {
		return 0.0
	}
	if bytesF <= 0 {
		return 1.0
	}
	if ndv/(bytesF*8) > 3 {
		return 1.0
	}

	result := 0.0
	lam := bucketWords * wordBitsF / ((bytesF * 8) / ndv)
	logLam := math.Log(lam)
	log1Collide := -hashBits * math.Log(2.0)
	const maxJ = 10000
	for j := uint64(0); j < maxJ; j++ {
		i := float64(maxJ - 1 - j)
		logP := i*logLam - lam - lgamma(i+1)
		logFInner := bucketWords * math.Log(1.0-math.Pow(1.0-1.0/wordBitsF, i))
		logCollide := math.Log(i) + log1Collide
		result += math.Exp(logP+logFInner) + math.Exp(logP+logCollide)
	}
	if result > 1.0 {
		return 1.0
	}
	return result
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}

func ceilToBucket(x, bucketBytes uint64) uint64 {
	return ((x + bucketBytes - 1) / bucketBytes) * bucketBytes
}

func bytesNeededDetail(ndv, fpp, wordBitsF, bucketWords, hashBits float64) uint64 {
	bucketBytes := uint64(wordBitsF * bucketWords / 8)
	result := uint64(1)
	for fppDetail(ndv, float64(result), wordBitsF, bucketWords, hashBits) > fpp {
		if result*2 < result {
			return result
		}
		result *= 2
	}
	if result <= bucketBytes {
		return bucketBytes
	}
	lo := uint64(0)
	for lo+1 < result {
		mid := lo + (result-lo)/2
		test := fppDetail(ndv, float64(mid), wordBitsF, bucketWords, hashBits)
		switch {
		case test < fpp:
			result = mid
		case test == fpp:
			return ceilToBucket(mid, bucketBytes)
		default:
			lo = mid
		}
	}
	return ceilToBucket(result, bucketBytes)
}

func capacityDetail(bytes uint64, fpp, wordBitsF, bucketWords, hashBits float64) uint64 {
	result := uint64(1)
	for fppDetail(float64(result), float64(bytes), wordBitsF, bucketWords, hashBits) < fpp {
		result *= 2
	}
	if result == 1 {
		return 0
	}
	lo := uint64(0)
	for lo+1 < result {
		mid := lo + (result-lo)/2
		test := fppDetail(float64(mid), float64(bytes), wordBitsF, bucketWords, hashBits)
		switch {
		case test < fpp:
			lo = mid
		case test == fpp:
			return mid
		default:
			result = mid
		}
	}
	return lo
}
