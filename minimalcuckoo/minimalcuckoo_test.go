package minimalcuckoo

import (
	"math/rand"
	"testing"

	"github.com/fukua95/approxfilter/internal/feistel"
	"github.com/stretchr/testify/assert"
)

// TestPathsRoundTripAcrossCursorsAndShapes exercises toPath/fromPathNoTail
// across every cursor position and both path shapes (full_is_short true and
// false): whenever toPath produces a non-empty path, applying
// fromPathNoTail and re-applying toPath must recover the same
// {level, bucket, fingerprint, long_fp}. Grounded in ToFromTo from the
// original implementation's paths test.
func TestPathsRoundTripAcrossCursorsAndShapes(t *testing.T) {
	f := feistel.New([4]uint64{1, 0, 1, 0})
	const xbase = uint64(0x123456789abcdef0)
	const lowLevel = 16

	for i := 0; i < 64; i++ {
		x := xbase << uint(i)
		for cursor := 0; cursor < numLevels; cursor++ {
			for _, fullIsShort := range []bool{true, false} {
				p := toPath(x, f, cursor, lowLevel, fullIsShort)
				if p.Slot.Tail == 0 {
					// before-cursor + full_is_short is defined to be empty.
					continue
				}
				bigIndex := p.Level < uint64(cursor)
				levelSize := lowLevel + b2i(bigIndex)
				fingerprintSize := headSize - 1 + b2i(p.Slot.LongFP)
				y := fromPathNoTail(p, f, levelSize, fingerprintSize)
				q := toPath(y, f, cursor, lowLevel, fullIsShort)
				assert.Equal(t, p.Level, q.Level)
				assert.Equal(t, p.Bucket, q.Bucket)
				assert.Equal(t, p.Slot.Fingerprint, q.Slot.Fingerprint)
				assert.Equal(t, p.Slot.LongFP, q.Slot.LongFP)
			}
		}
	}
}

// TestRePathHalfIdentity checks that re-pathing from one side's permutations
// to another's, with matching cursor and log size, reproduces exactly what
// toPath would compute directly on the target side, and leaves the
// secondary output empty. Grounded verbatim in RePathHalfIdentity from the
// original implementation's paths test, including its entropy constants.
func TestRePathHalfIdentity(t *testing.T) {
	identity := feistel.New([4]uint64{1, 0, 1, 0})
	f := feistel.New([4]uint64{
		0x37156873ab534ce7, 0x5c669c3116114489, 0xfa52f24f2bc644d6, 0xcba217328d2f4950,
	})
	const xbase = uint64(0x123456789abcdef0)
	const lowLevel = 16

	for i := 0; i < 64; i++ {
		x := xbase << uint(i)
		for cursor := 0; cursor < numLevels; cursor++ {
			p := toPath(x, identity, cursor, lowLevel, false)
			if p.Slot.Tail == 0 {
				continue
			}
			q, out := rePath(p, identity, identity, f, f, lowLevel, lowLevel, cursor, cursor)
			assert.Equal(t, uint16(0), out.Slot.Tail)

			r := toPath(x, f, cursor, lowLevel, false)
			assert.NotEqual(t, uint16(0), r.Slot.Tail)
			assert.Equal(t, r.Level, q.Level)
			assert.Equal(t, r.Bucket, q.Bucket)
			assert.Equal(t, r.Slot.Fingerprint, q.Slot.Fingerprint)
			assert.Equal(t, r.Slot.LongFP, q.Slot.LongFP)
			assert.Equal(t, r.Slot.Tail, q.Slot.Tail)
		}
	}
}

// TestRePathDouble checks the case where a key has a valid short-input path
// under identity but none under the target permutation: re-pathing a path
// with an artificially emptied tail must return two candidate paths, each
// with an empty tail, at least one of which matches the long-input toPath
// result on the target side. Grounded verbatim in RePathDouble from the
// original implementation's paths test.
func TestRePathDouble(t *testing.T) {
	identity := feistel.New([4]uint64{1, 0, 1, 0})
	f := feistel.New([4]uint64{
		0x37156873ab534ce7, 0x5c669c3116114489, 0xfa52f24f2bc644d6, 0xcba217328d2f4950,
	})
	const xbase = uint64(0x123456789abcdef0)
	const lowLevel = 16
	count := 0

	for i := 0; i < 64; i++ {
		x := xbase << uint(i)
		for cursor := 0; cursor < numLevels; cursor++ {
			p := toPath(x, identity, cursor, lowLevel, true)
			if p.Slot.Tail == 0 {
				continue
			}
			q := toPath(x, f, cursor, lowLevel, true)
			if q.Slot.Tail != 0 {
				continue
			}
			count++

			q = toPath(x, f, cursor, lowLevel, false)
			p.Slot.Tail = 1 << tailSize
			s, r := rePath(p, identity, identity, f, f, lowLevel, lowLevel, cursor, cursor)
			assert.Equal(t, uint16(1<<tailSize), s.Slot.Tail)
			assert.Equal(t, uint16(1<<tailSize), r.Slot.Tail)

			matchesS := q.Level == s.Level && q.Bucket == s.Bucket &&
				q.Slot.Fingerprint == s.Slot.Fingerprint && q.Slot.LongFP == s.Slot.LongFP
			matchesR := q.Level == r.Level && q.Bucket == r.Bucket &&
				q.Slot.Fingerprint == r.Slot.Fingerprint && q.Slot.LongFP == r.Slot.LongFP
			assert.True(t, matchesS || matchesR)
		}
	}
	assert.GreaterOrEqual(t, count, 100)
}

func TestBasicAddFind(t *testing.T) {
	// The filter reads a hash from its most significant bits, so the small
	// integers are spread across all 64 bits before use.
	spread := uint64(0x9e3779b97f4a7c15)
	f := CreateWithBytes(0)
	f.AddHash(111 * spread)
	f.AddHash(222 * spread)
	assert.True(t, f.FindHash(111*spread))
	assert.True(t, f.FindHash(222*spread))
	assert.False(t, f.FindHash(333*spread))
}

func TestNoFalseNegativesAcrossUpsizes(t *testing.T) {
	f := CreateWithBytes(0)
	rng := rand.New(rand.NewSource(11))
	inserted := make([]uint64, 0, 5000)
	for i := 0; i < 5000; i++ {
		h := rng.Uint64()
		f.AddHash(h)
		inserted = append(inserted, h)
	}
	for _, h := range inserted {
		assert.True(t, f.FindHash(h))
	}
}

func TestCloneIsIndependent(t *testing.T) {
	spread := uint64(0x9e3779b97f4a7c15)
	f := CreateWithBytes(0)
	f.AddHash(1 * spread)
	f.AddHash(2 * spread)
	clone := f.Clone()
	clone.AddHash(3 * spread)
	assert.False(t, f.FindHash(3*spread))
	assert.True(t, clone.FindHash(3*spread))
}
