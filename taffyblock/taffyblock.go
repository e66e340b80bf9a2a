// Package taffyblock implements the Taffy-Block filter: a geometrically
// expanding sequence of Block filters that keeps aggregate false positive
// probability bounded while the number of distinct inserted values grows
// without a pre-declared bound.
package taffyblock

import (
	"math"

	"github.com/fukua95/approxfilter"
	"github.com/fukua95/approxfilter/block"
	"github.com/fukua95/approxfilter/internal/murmurhash"
)

// maxLevels is the cap named in spec §4.F / §9: beyond this many levels,
// insert surfaces approxfilter.ErrCapacityExceeded instead of the source's
// undefined behavior.
const maxLevels = 48

// sixOverPiSquared is the convergent-series constant (6/pi^2) the fpp
// budget for level i is scaled by: sum_{i=0}^inf 1/(i+1)^2 * 6/pi^2 == 1, so
// per-level budgets sum to at most the target fpp.
var sixOverPiSquared = 6.0 / (math.Pi * math.Pi)

// Filter is a Taffy-Block filter.
type Filter struct {
	levels  [maxLevels]*block.Filter
	sizes   [maxLevels]uint64
	cursor  int
	lastNDV uint64
	ttl     int64
	ndv     uint64
	fpp     float64
}

// New creates a Taffy-Block filter sized for an initial ndv distinct values
// at false positive probability fpp, with level 0 already allocated.
func New(ndv uint64, fpp float64) (*Filter, error) {
	f := &Filter{ndv: ndv, fpp: fpp}
	for x := 0; x < maxLevels; x++ {
		levelFPP := fpp / float64((x+1)*(x+1)) * sixOverPiSquared
		f.sizes[x] = block.BytesNeeded(float64(ndv<<uint(x)), levelFPP)
	}
	f.lastNDV = ndv
	f.ttl = int64(ndv)
	level0, err := block.New(f.sizes[0])
	if err != nil {
		return nil, err
	}
	f.levels[0] = level0
	f.cursor = 1
	return f, nil
}

// upsize allocates the next level and resets the ttl budget.
func (f *Filter) upsize() error {
	if f.cursor >= maxLevels {
		return approxfilter.ErrCapacityExceeded
	}
	level, err := block.New(f.sizes[f.cursor])
	if err != nil {
		return approxfilter.ErrAllocationFailure
	}
	f.levels[f.cursor] = level
	f.cursor++
	f.lastNDV *= 2
	f.ttl = int64(f.lastNDV)
	return nil
}

// InsertHash inserts a pre-hashed value, upsizing first if the current
// level's ttl budget is exhausted.
func (f *Filter) InsertHash(h uint64) error {
	if f.ttl <= 0 {
		if err := f.upsize(); err != nil {
			return err
		}
	}
	f.levels[f.cursor-1].AddHash(h)
	f.ttl--
	return nil
}

// FindHash reports whether h was possibly inserted, checking every
// initialized level.
func (f *Filter) FindHash(h uint64) bool {
	for i := 0; i < f.cursor; i++ {
		if f.levels[i].FindHash(h) {
			return true
		}
	}
	return false
}

// Add hashes key with the default hasher and inserts it.
func (f *Filter) Add(key []byte) error { return f.InsertHash(murmurhash.Default.Sum64(key)) }

// Contains hashes key with the default hasher and looks it up.
func (f *Filter) Contains(key []byte) bool { return f.FindHash(murmurhash.Default.Sum64(key)) }

// SizeInBytes sums the heap footprint of every initialized level.
func (f *Filter) SizeInBytes() uint64 {
	var total uint64
	for i := 0; i < f.cursor; i++ {
		total += f.levels[i].SizeInBytes()
	}
	return total
}

// Clone deep-copies every initialized level.
func (f *Filter) Clone() *Filter {
	out := *f
	for i := 0; i < f.cursor; i++ {
		out.levels[i] = f.levels[i].Clone()
	}
	return &out
}

// Close releases every initialized level's backing storage.
func (f *Filter) Close() error {
	var err error
	for i := 0; i < f.cursor; i++ {
		if cerr := f.levels[i].Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
