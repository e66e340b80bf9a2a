package feistel

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPermuteRoundTrip(t *testing.T) {
	entropy := [4]uint64{0x2ba7538ee1234073, 0xfcc3777539b147d6, 0x6086c563576347e7, 0x52eff34ee1764465}
	f := New(entropy)
	rng := rand.New(rand.NewSource(0xDEADBEEF))
	for w := 2; w <= 30; w++ {
		for i := 0; i < 200; i++ {
			x := uint64(rng.Int63()) & ((uint64(1) << uint(w)) - 1)
			forward := f.PermuteForward(w, x)
			back := f.PermuteBackward(w, forward)
			assert.Equalf(t, x, back, "w=%d x=%d", w, x)
		}
	}
}

func TestPermuteIdentityEntropyStillPermutes(t *testing.T) {
	f := New([4]uint64{1, 0, 1, 0})
	seen := map[uint64]bool{}
	for x := uint64(0); x < 256; x++ {
		y := f.PermuteForward(8, x)
		assert.False(t, seen[y], "collision at x=%d", x)
		seen[y] = true
		assert.Equal(t, x, f.PermuteBackward(8, y))
	}
}
