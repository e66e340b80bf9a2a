// Package cuckoo implements the Taffy-Cuckoo filter: a two-sided quotient
// cuckoo hash table that uses an invertible keyed Feistel permutation over
// fingerprint+index bits, with a tail-bit mechanism that lets entries be
// re-hashed into a larger table without reconsulting the original keys.
// Doubling happens in one step (contrast with minimalcuckoo, which spreads
// doubling across 32 incremental levels).
package cuckoo

import (
	"math/bits"

	"github.com/fukua95/approxfilter/internal/feistel"
	"github.com/fukua95/approxfilter/internal/murmurhash"
	"github.com/fukua95/approxfilter/internal/pcgrand"
	"github.com/fukua95/approxfilter/internal/tail"
)

const (
	headSize = 10
	tailSize = tail.Size // 5; headSize+tailSize must equal 15
	numSlots = 4
	logSlots = 2
)

func init() {
	if headSize+tailSize != 15 {
		panic("cuckoo: headSize+tailSize must equal 15")
	}
}

// Slot is the packed {fingerprint, tail} record stored in a bucket. tail ==
// 0 means the slot is empty, regardless of fingerprint.
type Slot struct {
	Fingerprint uint16
	Tail        uint16
}

func (s Slot) empty() bool { return s.Tail == 0 }

// Path is a slot together with the bucket index that locates it within a
// side.
type Path struct {
	Slot   Slot
	Bucket uint64
}

func pathEqual(a, b Path) bool {
	return a.Bucket == b.Bucket && a.Slot.Fingerprint == b.Slot.Fingerprint && a.Slot.Tail == b.Slot.Tail
}

type bucket [numSlots]Slot

// side owns one half of the cuckoo table: its own Feistel permutation, the
// bucket array, and a stash of paths that didn't fit.
type side struct {
	f     feistel.Feistel
	data  []bucket
	stash []Path
}

func newSide(logSideSize int, keys [4]uint64) *side {
	return &side{
		f:    feistel.New(keys),
		data: make([]bucket, uint64(1)<<uint(logSideSize)),
	}
}

func (s *side) clone() *side {
	out := &side{f: s.f, data: make([]bucket, len(s.data)), stash: make([]Path, len(s.stash))}
	copy(out.data, s.data)
	copy(out.stash, s.stash)
	return out
}

// toPath converts the top logSideSize+headSize+tailSize bits of raw into a
// path: bucket and fingerprint come from permuting the top logSideSize+
// headSize bits, while the tail is unhashed residual bits below that.
func toPath(raw uint64, f feistel.Feistel, logSideSize int) Path {
	preHashIndexAndFP := raw >> uint(64-logSideSize-headSize)
	hashedIndexAndFP := f.PermuteForward(logSideSize+headSize, preHashIndexAndFP)
	bucketIdx := hashedIndexAndFP >> headSize
	fingerprint := uint16(hashedIndexAndFP & ((1 << headSize) - 1))

	preHashIndexFPAndTail := raw >> uint(64-logSideSize-headSize-tailSize)
	rawTail := preHashIndexFPAndTail & ((1 << tailSize) - 1)

	return Path{
		Slot:   Slot{Fingerprint: fingerprint, Tail: tail.Encode(uint16(rawTail))},
		Bucket: bucketIdx,
	}
}

// fromPathNoTail inverts toPath's bucket+fingerprint hashing, recovering
// the top logSideSize+headSize bits of the original raw key, shifted up to
// occupy the high bits of a 64-bit word. The tail is elided: a short tail
// cannot be told apart from a long one padded with zeros.
func fromPathNoTail(p Path, f feistel.Feistel, logSideSize int) uint64 {
	hashedIndexAndFP := (p.Bucket << headSize) | uint64(p.Slot.Fingerprint)
	preHashedIndexAndFP := f.PermuteBackward(logSideSize+headSize, hashedIndexAndFP)
	return preHashedIndexAndFP << uint(64-logSideSize-headSize)
}

// insert attempts to place p in the side's table at p.Bucket. It returns a
// path with Tail==0 if an empty slot absorbed p, p itself unchanged if p
// was already present, or a displaced path that must be
// reinserted elsewhere.
func (s *side) insert(p Path, rng *pcgrand.PCG) Path {
	b := &s.data[p.Bucket]
	for i := 0; i < numSlots; i++ {
		if b[i].empty() {
			b[i] = p.Slot
			p.Slot.Tail = 0
			return p
		}
		if b[i].Fingerprint == p.Slot.Fingerprint && tail.IsPrefixOf(b[i].Tail, p.Slot.Tail) {
			return p
		}
	}
	i := rng.Get()
	result := p
	result.Slot = b[i]
	b[i] = p.Slot
	return result
}

func (s *side) find(p Path) bool {
	for _, st := range s.stash {
		if !st.Slot.empty() && p.Bucket == st.Bucket && p.Slot.Fingerprint == st.Slot.Fingerprint &&
			tail.IsPrefixOf(st.Slot.Tail, p.Slot.Tail) {
			return true
		}
	}
	b := &s.data[p.Bucket]
	for i := 0; i < numSlots; i++ {
		if b[i].empty() {
			continue
		}
		if b[i].Fingerprint == p.Slot.Fingerprint && tail.IsPrefixOf(b[i].Tail, p.Slot.Tail) {
			return true
		}
	}
	return false
}

// Filter is a Taffy-Cuckoo filter.
type Filter struct {
	sides       [2]*side
	logSideSize int
	rng         pcgrand.PCG
	entropy     [8]uint64
	occupied    uint64
}

// defaultEntropy are the eight fixed 64-bit constants CreateWithBytes uses,
// taken verbatim from the original implementation so construction is
// bit-reproducible.
var defaultEntropy = [8]uint64{
	0x2ba7538ee1234073, 0xfcc3777539b147d6, 0x6086c563576347e7, 0x52eff34ee1764465,
	0x8639cbf57f264867, 0x5a31ee34f0224ccb, 0x07a1cb8140744ee6, 0xf2296cf6a6524e9f,
}

func create(logSideSize int, entropy [8]uint64) *Filter {
	var keys0, keys1 [4]uint64
	copy(keys0[:], entropy[0:4])
	copy(keys1[:], entropy[4:8])
	return &Filter{
		sides:       [2]*side{newSide(logSideSize, keys0), newSide(logSideSize, keys1)},
		logSideSize: logSideSize,
		rng:         pcgrand.New(logSlots),
		entropy:     entropy,
	}
}

// CreateWithBytes constructs a filter sized to use approximately bytes of
// initial table storage, using the library's fixed entropy constants.
func CreateWithBytes(bytesBudget uint64) *Filter {
	f := float64(1)
	if bytesBudget > 0 {
		lg := log2(float64(bytesBudget) / 2 / numSlots / 2) // 2 bytes per slot at the packed 16-bit width
		if lg > f {
			f = lg
		}
	}
	return create(int(f), defaultEntropy)
}

func log2(x float64) float64 {
	if x <= 0 {
		return 0
	}
	r := 0.0
	for x >= 2 {
		x /= 2
		r++
	}
	for x < 1 && x > 0 {
		x *= 2
		r--
	}
	return r
}

// Capacity returns the total slot count of both sides' tables, stashes not
// included. InsertHash upsizes once occupancy exceeds 90% of it, comes
// within 4 of it, or the two stashes hold more than 8 entries between them.
func (f *Filter) Capacity() uint64 {
	return 2 * numSlots * (uint64(1) << uint(f.logSideSize))
}

// SizeInBytes returns the size of the tables and stashes, counting each slot
// at its packed 16-bit width and each stash entry at that plus an 8-byte
// bucket index. The Go Slot and Path structs themselves are larger (4 and 16
// bytes).
func (f *Filter) SizeInBytes() uint64 {
	perSlot := uint64(2) // bytes per packed Slot
	total := uint64(0)
	for _, s := range f.sides {
		total += uint64(len(s.data)) * numSlots * perSlot
		total += uint64(len(s.stash)) * (perSlot + 8)
	}
	return total
}

// FindHash reports whether hash was possibly inserted.
func (f *Filter) FindHash(hash uint64) bool {
	for s := 0; s < 2; s++ {
		if f.sides[s].find(toPath(hash, f.sides[s].f, f.logSideSize)) {
			return true
		}
	}
	return false
}

// insertTCFB inserts a path on the given side using the default ttl budget
// used for both ordinary inserts and the re-inserts Upsize performs.
func insertTCFB(f *Filter, s int, p Path) {
	f.insertSidePath(s, p)
}

func (f *Filter) insertSidePath(s int, p Path) bool {
	return f.insertSidePathTTL(s, p, 32)
}

// insertSidePathTTL alternates sides trying to place p, stashing it once
// ttl is exhausted. It returns false when the item had to be stashed
// (callers may want to know this to decide whether to upsize sooner).
func (f *Filter) insertSidePathTTL(s int, p Path, ttl int) bool {
	both := [2]*side{f.sides[s], f.sides[1-s]}
	for {
		for i := 0; i < 2; i++ {
			q := p
			p = both[i].insert(p, &f.rng)
			if p.Slot.Tail == 0 {
				f.occupied++
				return true
			}
			if pathEqual(p, q) {
				return true
			}
			tailVal := p.Slot.Tail
			if ttl <= 0 {
				both[i].stash = append(both[i].stash, p)
				f.occupied++
				return false
			}
			ttl--
			raw := fromPathNoTail(p, both[i].f, f.logSideSize)
			p = toPath(raw, both[1-i].f, f.logSideSize)
			p.Slot.Tail = tailVal
		}
	}
}

// InsertHash inserts a pre-hashed value, upsizing first if the table is
// close enough to full that pathological cuckoo displacement chains would
// otherwise become likely.
func (f *Filter) InsertHash(hash uint64) {
	for f.needsUpsize() {
		f.upsize()
	}
	f.insertSidePath(0, toPath(hash, f.sides[0].f, f.logSideSize))
}

func (f *Filter) needsUpsize() bool {
	capacity := f.Capacity()
	return float64(f.occupied) > 0.90*float64(capacity) ||
		f.occupied+4 >= capacity ||
		uint64(len(f.sides[0].stash)+len(f.sides[1].stash)) > 8
}

// Add hashes key with the default hasher and inserts it.
func (f *Filter) Add(key []byte) { f.InsertHash(murmurhash.Default.Sum64(key)) }

// Contains hashes key with the default hasher and looks it up.
func (f *Filter) Contains(key []byte) bool { return f.FindHash(murmurhash.Default.Sum64(key)) }

// upsizeHelper migrates one occupied slot of the old filter into the
// doubled filter t, splitting it into two entries when its tail has no
// spare bits left to steal.
func upsizeHelper(here *Filter, sl Slot, i uint64, s int, t *Filter) {
	if sl.empty() {
		return
	}
	p := Path{Slot: sl, Bucket: i}
	q := fromPathNoTail(p, here.sides[s].f, here.logSideSize)
	if sl.Tail == tail.Empty {
		p0 := toPath(q, t.sides[0].f, t.logSideSize)
		p0.Slot.Tail = sl.Tail
		insertTCFB(t, 0, p0)

		q |= uint64(1) << uint(64-here.logSideSize-headSize-1)
		p1 := toPath(q, t.sides[0].f, t.logSideSize)
		p1.Slot.Tail = sl.Tail
		insertTCFB(t, 0, p1)
		return
	}
	q |= uint64(sl.Tail>>tailSize) << uint(64-here.logSideSize-headSize-1)
	r := toPath(q, t.sides[0].f, t.logSideSize)
	r.Slot.Tail = (sl.Tail << 1) & (1<<(tailSize+1) - 1)
	insertTCFB(t, 0, r)
}

// upsize doubles the table size, re-inserting every occupied slot and
// stash entry of the old table into a fresh, larger one.
func (f *Filter) upsize() {
	t := create(f.logSideSize+1, f.entropy)
	for s := 0; s < 2; s++ {
		for _, p := range f.sides[s].stash {
			upsizeHelper(f, p.Slot, p.Bucket, s, t)
		}
		for i := range f.sides[s].data {
			for j := 0; j < numSlots; j++ {
				upsizeHelper(f, f.sides[s].data[i][j], uint64(i), s, t)
			}
		}
	}
	*f = *t
}

// Clone deep-copies the filter.
func (f *Filter) Clone() *Filter {
	out := &Filter{
		sides:       [2]*side{f.sides[0].clone(), f.sides[1].clone()},
		logSideSize: f.logSideSize,
		rng:         f.rng,
		entropy:     f.entropy,
		occupied:    f.occupied,
	}
	return out
}

func ctz16(x uint16) int { return bits.TrailingZeros16(x) }
