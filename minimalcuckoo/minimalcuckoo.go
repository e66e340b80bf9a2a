// Package minimalcuckoo implements the Minimal-Taffy-Cuckoo filter: a
// variant of the Taffy-Cuckoo filter that grows by doubling a single
// internal "level" at a time (of 32 total, tracked by a cursor) rather than
// doubling the whole table in one step. This trades a slightly more
// intricate path-translation scheme (see toPath/rePath/rePathUpsize) for
// smoother, lower-latency growth.
package minimalcuckoo

import (
	"github.com/fukua95/approxfilter/internal/feistel"
	"github.com/fukua95/approxfilter/internal/murmurhash"
	"github.com/fukua95/approxfilter/internal/pcgrand"
	"github.com/fukua95/approxfilter/internal/tail"
)

const (
	logLevels = 5
	numLevels = 1 << logLevels // 32
	headSize  = 9
	tailSize  = 5 // headSize+tailSize must equal 14
	numSlots  = 4
	logSlots  = 2
)

func init() {
	if headSize+tailSize != 14 {
		panic("minimalcuckoo: headSize+tailSize must equal 14")
	}
}

func mask(w int, x uint64) uint64 { return x & ((uint64(1) << uint(w)) - 1) }

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Slot is the packed {long_fp, fingerprint, tail} record stored in a bucket.
// long_fp is set only on paths with a full headSize-bit fingerprint (a
// long-input path at or after the cursor); tail == 0 means the slot is empty.
type Slot struct {
	LongFP      bool
	Fingerprint uint16
	Tail        uint16
}

func (s Slot) empty() bool { return s.Tail == 0 }

// Path is a slot together with the level and bucket that locate it.
type Path struct {
	Slot   Slot
	Level  uint64
	Bucket uint64
}

func pathEqual(a, b Path) bool {
	return a.Level == b.Level && a.Bucket == b.Bucket && a.Slot.LongFP == b.Slot.LongFP &&
		a.Slot.Fingerprint == b.Slot.Fingerprint && a.Slot.Tail == b.Slot.Tail
}

type bucket [numSlots]Slot

// toPath converts the top bits of raw into a path using permutation f at
// the given cursor and level size. fullIsShort selects which of a side's
// two permutations raw is assumed to come from. true is the short-input
// shape: one fewer bit of raw is hashed, the fingerprint is headSize-1 bits
// and the bucket index lowLevelSize bits; it is only valid for levels at or
// after the cursor, and for a level before the cursor the returned path has
// Tail == 0. false is the long-input shape, valid everywhere: at or after
// the cursor the fingerprint is headSize bits (LongFP set) and the index
// lowLevelSize bits; before the cursor the index gains a bit and the
// fingerprint loses one.
func toPath(raw uint64, f feistel.Feistel, cursor int, lowLevelSize int, fullIsShort bool) Path {
	fis := b2i(fullIsShort)
	preHashLevelIndexFPAndTail := raw >> uint(64-logLevels-lowLevelSize-headSize+fis-tailSize)
	rawTail := mask(tailSize, preHashLevelIndexFPAndTail)
	preHashLevelIndexAndFP := preHashLevelIndexFPAndTail >> tailSize
	hashedLevelIndexAndFP := f.PermuteForward(logLevels+lowLevelSize+headSize-fis, preHashLevelIndexAndFP)

	var p Path
	p.Level = hashedLevelIndexAndFP >> uint(lowLevelSize+headSize-fis)
	bigIndex := p.Level < uint64(cursor)
	bi := b2i(bigIndex)
	if bigIndex && fullIsShort {
		p.Slot.Tail = 0
		return p
	}

	p.Bucket = mask(lowLevelSize+bi, hashedLevelIndexAndFP>>uint(headSize-fis-bi))
	p.Slot.LongFP = !bigIndex && !fullIsShort
	p.Slot.Fingerprint = uint16(mask(headSize-fis-bi, hashedLevelIndexAndFP))
	p.Slot.Tail = uint16(rawTail*2 + 1)
	return p
}

// fromPathNoTail inverts toPath's level+bucket+fingerprint hashing,
// recovering the top bits of the original raw key shifted up to the high
// bits of a 64-bit word. The tail is elided, same rationale as in cuckoo.
func fromPathNoTail(p Path, f feistel.Feistel, levelSize int, fingerprintSize int) uint64 {
	hashedLevelIndexAndFP := (((p.Level << uint(levelSize)) | p.Bucket) << uint(fingerprintSize)) | uint64(p.Slot.Fingerprint)
	preHashedIndexAndFP := f.PermuteBackward(logLevels+levelSize+fingerprintSize, hashedLevelIndexAndFP)
	return preHashedIndexAndFP << uint(64-logLevels-levelSize-fingerprintSize)
}

// rePathUpsize translates a path at fromCursor into the filter after its
// cursor has advanced by one, same log side size. It returns a primary path
// r (always valid) and, when a level that straddled the cursor had to be
// split into two entries, a second path out (out.Slot.Tail == 0 when there
// is only one result).
func rePathUpsize(p Path, flo, fhi feistel.Feistel, logSize int, fromCursor int) (r Path, out Path) {
	toCursor := fromCursor + 1
	if p.Level < uint64(fromCursor) {
		key := fromPathNoTail(p, fhi, logSize+1, headSize-1)
		q := toPath(key, fhi, toCursor, logSize, false)
		q.Slot.Tail = p.Slot.Tail
		out.Slot.Tail = 0
		return q, out
	}
	if p.Slot.LongFP {
		key := fromPathNoTail(p, fhi, logSize, headSize)
		q := toPath(key, fhi, toCursor, logSize, false)
		q.Slot.Tail = p.Slot.Tail
		out.Slot.Tail = 0
		return q, out
	}
	key := fromPathNoTail(p, flo, logSize, headSize-1)
	q := toPath(key, flo, toCursor, logSize, true)
	if q.Level >= uint64(toCursor) {
		q.Slot.Tail = p.Slot.Tail
		out.Slot.Tail = 0
		return q, out
	}
	// q is invalid: the level is low but there aren't enough bits for the fingerprint.
	if p.Slot.Tail != 1<<tailSize {
		k := key | (uint64(p.Slot.Tail>>tailSize) << uint(64-logLevels-logSize-headSize))
		q2 := toPath(k, fhi, toCursor, logSize, false)
		q2.Slot.Tail = (p.Slot.Tail << 1) & (1<<(tailSize+1) - 1)
		out.Slot.Tail = 0
		return q2, out
	}
	// p's tail is empty: split into two entries, one for each possible extra bit.
	out = toPath(key, fhi, toCursor, logSize, false)
	out.Slot.Tail = p.Slot.Tail
	k := key | (uint64(1) << uint(64-logLevels-logSize-headSize))
	q2 := toPath(k, fhi, toCursor, logSize, false)
	q2.Slot.Tail = p.Slot.Tail
	return q2, out
}

// rePath translates a path from one side's permutations (fromShort/
// fromLong at logFromSize/fromCursor) to another's (toShort/toLong at
// logToSize/toCursor). Its caller, insertDetail, uses it to move a displaced
// path to the other side of the same filter, always with logFromSize ==
// logToSize; upsize uses rePathUpsize instead, so the branches taken when
// the sizes differ are not reached from within this package.
func rePath(p Path, fromShort, fromLong, toShort, toLong feistel.Feistel, logFromSize, logToSize int, fromCursor, toCursor int) (r Path, out Path) {
	upsize := logToSize != logFromSize
	if p.Level < uint64(fromCursor) {
		key := fromPathNoTail(p, fromLong, logFromSize+1, headSize-1)
		q := toPath(key, toLong, toCursor, logToSize, false)
		q.Slot.Tail = p.Slot.Tail
		out.Slot.Tail = 0
		return q, out
	}
	if p.Slot.LongFP {
		key := fromPathNoTail(p, fromLong, logFromSize, headSize)
		f := toLong
		if upsize {
			f = toShort
		}
		q := toPath(key, f, toCursor, logToSize, upsize)
		q.Slot.Tail = p.Slot.Tail
		out.Slot.Tail = 0
		return q, out
	}
	key := fromPathNoTail(p, fromShort, logFromSize, headSize-1)
	q := toPath(key, toShort, toCursor, logToSize, true)
	if !upsize && q.Level >= uint64(toCursor) {
		q.Slot.Tail = p.Slot.Tail
		out.Slot.Tail = 0
		return q, out
	}
	if p.Slot.Tail != 1<<tailSize {
		k := key | (uint64(p.Slot.Tail>>tailSize) << uint(64-logLevels-logFromSize-headSize))
		q2 := toPath(k, toLong, toCursor, logToSize, false)
		q2.Slot.Tail = (p.Slot.Tail << 1) & (1<<(tailSize+1) - 1)
		out.Slot.Tail = 0
		return q2, out
	}
	out = toPath(key, toLong, toCursor, logToSize, false)
	out.Slot.Tail = p.Slot.Tail
	k := key | (uint64(1) << uint(64-logLevels-logFromSize-headSize))
	q2 := toPath(k, toLong, toCursor, logToSize, false)
	q2.Slot.Tail = p.Slot.Tail
	return q2, out
}

// level is one of a side's 32 geometrically-doubled slot arrays.
type level struct {
	data []bucket
}

func (lv *level) insert(p Path, rng *pcgrand.PCG) Path {
	b := &lv.data[p.Bucket]
	for i := 0; i < numSlots; i++ {
		if b[i].empty() {
			b[i] = p.Slot
			p.Slot.Tail = 0
			return p
		}
		if b[i].LongFP == p.Slot.LongFP && b[i].Fingerprint == p.Slot.Fingerprint &&
			tail.IsPrefixOf(b[i].Tail, p.Slot.Tail) {
			return p
		}
	}
	i := rng.Get()
	result := p
	result.Slot = b[i]
	b[i] = p.Slot
	return result
}

func (lv *level) find(p Path) bool {
	b := &lv.data[p.Bucket]
	for i := 0; i < numSlots; i++ {
		if b[i].empty() {
			continue
		}
		if b[i].LongFP == p.Slot.LongFP && b[i].Fingerprint == p.Slot.Fingerprint &&
			tail.IsPrefixOf(b[i].Tail, p.Slot.Tail) {
			return true
		}
	}
	return false
}

// side owns one half of the cuckoo table: two Feistel permutations (hi for
// long-input paths, lo for short-input ones), 32 levels, and a stash.
type side struct {
	hi, lo feistel.Feistel
	levels [numLevels]level
	stash  []Path
}

// newSide builds a side from 12 64-bit entropy words, matching the
// original's non-contiguous split: hi takes keys[0:4], lo takes keys[6:10].
func newSide(logLevelSize int, keys [12]uint64) *side {
	var hiKeys, loKeys [4]uint64
	copy(hiKeys[:], keys[0:4])
	copy(loKeys[:], keys[6:10])
	s := &side{hi: feistel.New(hiKeys), lo: feistel.New(loKeys)}
	for i := range s.levels {
		s.levels[i].data = make([]bucket, uint64(1)<<uint(logLevelSize))
	}
	return s
}

func (s *side) clone() *side {
	out := &side{hi: s.hi, lo: s.lo}
	for i := range s.levels {
		out.levels[i].data = make([]bucket, len(s.levels[i].data))
		copy(out.levels[i].data, s.levels[i].data)
	}
	out.stash = make([]Path, len(s.stash))
	copy(out.stash, s.stash)
	return out
}

func (s *side) find(p Path) bool {
	for _, st := range s.stash {
		if !st.Slot.empty() && st.Slot.LongFP == p.Slot.LongFP && st.Slot.Fingerprint == p.Slot.Fingerprint &&
			tail.IsPrefixOf(st.Slot.Tail, p.Slot.Tail) && st.Level == p.Level && st.Bucket == p.Bucket {
			return true
		}
	}
	return s.levels[p.Level].find(p)
}

func (s *side) insert(p Path, rng *pcgrand.PCG) Path {
	return s.levels[p.Level].insert(p, rng)
}

// Filter is a Minimal-Taffy-Cuckoo filter.
type Filter struct {
	sides       [2]*side
	cursor      int
	logSideSize int
	rng         pcgrand.PCG
	occupied    uint64
}

// defaultEntropy are the 24 fixed 64-bit constants CreateWithBytes uses,
// split 12/12 across sides, taken verbatim from the original implementation.
var defaultEntropy = [24]uint64{
	0x2ba7538ee1234073, 0xfcc3777539b147d6, 0x6086c563576347e7, 0x52eff34ee1764465,
	0x8639cbf57f264867, 0x5a31ee34f0224ccb, 0x07a1cb8140744ee6, 0xf2296cf6a6524e9f,
	0x28a31cec9f6d4484, 0x688f3fe9de7245f6, 0x1dc17831966b41a2, 0xf227166e425e4b0c,
	0x4a2a62bafc694440, 0x2e6bbea775e3429d, 0x5687dd060ba64169, 0xc5d95e8a38a44789,
	0xd30480ab74084edc, 0xd72483670ec14df3, 0x0414954940374787, 0x8cd86adfda93493f,
	0x50d61c3272a24ccb, 0x40cb1e4f0da34cc3, 0xb88f09c3af35472e, 0x8de6d01bb8a849a5,
}

func create(logSideSize int, entropy [24]uint64) *Filter {
	var keys0, keys1 [12]uint64
	copy(keys0[:], entropy[0:12])
	copy(keys1[:], entropy[12:24])
	return &Filter{
		sides:       [2]*side{newSide(logSideSize, keys0), newSide(logSideSize, keys1)},
		logSideSize: logSideSize,
		rng:         pcgrand.New(logSlots),
	}
}

// CreateWithBytes constructs a filter using the library's fixed entropy
// constants. bytes is not used: every filter starts from the smallest table
// (log side size 0, one bucket per level per side) and grows only by
// upsizing as values are added.
func CreateWithBytes(bytes uint64) *Filter {
	_ = bytes
	return create(0, defaultEntropy)
}

// Capacity returns the slot count AddHash measures occupancy against: 2
// plus the slots of both sides' 32 levels, with levels before the cursor
// counted at their doubled size. AddHash upsizes once occupancy exceeds 90%
// of it, comes within 4 of it, or the two stashes hold more than 8 entries
// between them.
func (f *Filter) Capacity() uint64 {
	base := uint64(1) << uint(f.logSideSize)
	return 2 + 2*numSlots*(base*numLevels+base*uint64(f.cursor))
}

// SizeInBytes estimates the filter's current heap footprint.
func (f *Filter) SizeInBytes() uint64 {
	const slotBytes = 4 // counted per {long_fp, fingerprint, tail} slot; the Go Slot struct occupies 6
	total := uint64(0)
	for _, s := range f.sides {
		for i := 0; i < numLevels; i++ {
			total += uint64(len(s.levels[i].data)) * numSlots * slotBytes
		}
		total += uint64(len(s.stash)) * (slotBytes + 16)
	}
	return total
}

// FindHash reports whether k was possibly inserted. Each side is checked
// along both its short-input (lo) and long-input (hi) path.
func (f *Filter) FindHash(k uint64) bool {
	for i := 0; i < 2; i++ {
		p := toPath(k, f.sides[i].lo, f.cursor, f.logSideSize, true)
		if p.Slot.Tail != 0 && f.sides[i].find(p) {
			return true
		}
		p = toPath(k, f.sides[i].hi, f.cursor, f.logSideSize, false)
		if p.Slot.Tail != 0 && f.sides[i].find(p) {
			return true
		}
	}
	return false
}

// insertDetail alternates sides trying to place p, recursing to plant a
// second path when rePath splits one (crossing the cursor boundary), and
// stashing once ttl is exhausted.
func (f *Filter) insertDetail(side int, p Path, ttl int) {
	both := [2]int{side, 1 - side}
	for {
		for j := 0; j < 2; j++ {
			i := both[j]
			ttl--
			if ttl < 0 {
				f.sides[i].stash = append(f.sides[i].stash, p)
				f.occupied++
				return
			}
			q := p
			r := f.sides[i].insert(p, &f.rng)
			if r.Slot.Tail == 0 {
				f.occupied++
				return
			}
			if pathEqual(r, q) {
				return
			}
			next, extra := rePath(r, f.sides[i].lo, f.sides[i].hi, f.sides[1-i].lo, f.sides[1-i].hi,
				f.logSideSize, f.logSideSize, f.cursor, f.cursor)
			if extra.Slot.Tail != 0 {
				f.insertDetail(1-i, extra, ttl)
			}
			p = next
		}
	}
}

func (f *Filter) needsUpsize() bool {
	capacity := f.Capacity()
	return float64(f.occupied) > 0.9*float64(capacity) ||
		f.occupied+4 >= capacity ||
		uint64(len(f.sides[0].stash)+len(f.sides[1].stash)) > 8
}

// AddHash inserts a pre-hashed value, upsizing first as many times as
// needed to stay under the occupancy/stash thresholds.
func (f *Filter) AddHash(k uint64) {
	for f.needsUpsize() {
		f.upsize()
	}
	p := toPath(k, f.sides[0].hi, f.cursor, f.logSideSize, false)
	f.insertDetail(0, p, 128)
}

// Add hashes key with the default hasher and inserts it.
func (f *Filter) Add(key []byte) { f.AddHash(murmurhash.Default.Sum64(key)) }

// Contains hashes key with the default hasher and looks it up.
func (f *Filter) Contains(key []byte) bool { return f.FindHash(murmurhash.Default.Sum64(key)) }

// upsize doubles the bucket count of exactly one level (the one at the
// current cursor) on both sides, re-inserting every path that lived in the
// old, half-sized level (and every stashed path) via rePathUpsize. Once the
// cursor has advanced past the last level, it wraps to 0, the log side size
// increases (every level from here on doubles again), and lo/hi swap roles
// on both sides.
func (f *Filter) upsize() {
	oldCursor := f.cursor
	var lastData [2][]bucket
	for i := 0; i < 2; i++ {
		lastData[i] = f.sides[i].levels[oldCursor].data
		f.sides[i].levels[oldCursor].data = make([]bucket, uint64(2)<<uint(f.logSideSize))
	}
	f.cursor = oldCursor + 1

	var oldStash [2][]Path
	for i := 0; i < 2; i++ {
		oldStash[i] = f.sides[i].stash
		f.occupied -= uint64(len(oldStash[i]))
		f.sides[i].stash = nil
	}

	for s := 0; s < 2; s++ {
		for _, p := range oldStash[s] {
			r, q := rePathUpsize(p, f.sides[s].lo, f.sides[s].hi, f.logSideSize, oldCursor)
			if q.Slot.Tail != 0 {
				f.insertDetail(s, q, 128)
			}
			f.insertDetail(s, r, 128)
		}
	}

	for s := 0; s < 2; s++ {
		for i, b := range lastData[s] {
			for j := 0; j < numSlots; j++ {
				if b[j].empty() {
					continue
				}
				f.occupied--
				p := Path{Slot: b[j], Level: uint64(oldCursor), Bucket: uint64(i)}
				r, q := rePathUpsize(p, f.sides[s].lo, f.sides[s].hi, f.logSideSize, oldCursor)
				if q.Slot.Tail != 0 {
					f.insertDetail(s, q, 128)
				}
				f.insertDetail(s, r, 128)
			}
		}
	}

	if f.cursor == numLevels {
		f.cursor = 0
		f.logSideSize++
		for i := 0; i < 2; i++ {
			f.sides[i].lo, f.sides[i].hi = f.sides[i].hi, f.sides[i].lo
		}
	}
}

// Clone deep-copies the filter.
func (f *Filter) Clone() *Filter {
	return &Filter{
		sides:       [2]*side{f.sides[0].clone(), f.sides[1].clone()},
		cursor:      f.cursor,
		logSideSize: f.logSideSize,
		rng:         f.rng,
		occupied:    f.occupied,
	}
}
