package cuckoo

import "github.com/fukua95/approxfilter/internal/tail"

// Union returns a filter accepting the union of x and y's inserted sets.
// The smaller filter (by logSideSize, then occupancy) is folded into a
// clone of the larger, since inserting into a larger table is always
// valid while the reverse may need room that doesn't exist.
func Union(x, y *Filter) *Filter {
	if x.logSideSize > y.logSideSize || (x.logSideSize == y.logSideSize && x.occupied >= y.occupied) {
		result := x.Clone()
		unionOne(result, y)
		return result
	}
	result := y.Clone()
	unionOne(result, x)
	return result
}

// unionOne folds that's entries into here. Precondition: that.logSideSize
// <= here.logSideSize.
func unionOne(here, that *Filter) {
	for side := 0; side < 2; side++ {
		for _, p := range that.sides[side].stash {
			unionHelp(here, that, side, p)
		}
		for bucketIdx := range that.sides[side].data {
			b := that.sides[side].data[bucketIdx]
			for slot := 0; slot < numSlots; slot++ {
				if b[slot].empty() {
					continue
				}
				p := Path{Slot: b[slot], Bucket: uint64(bucketIdx)}
				unionHelp(here, that, side, p)
			}
		}
	}
}

// unionHelp re-derives the hashed key bits behind path p (taken from
// that.sides[side]) and inserts the equivalent path(s) into here, side 0,
// accounting for the possibility that here's table is larger than that's.
func unionHelp(here, that *Filter, side int, p Path) {
	hashed := fromPathNoTail(p, that.sides[side].f, that.logSideSize)
	tailLen := tailSize - ctz16(p.Slot.Tail)

	switch {
	case that.logSideSize == here.logSideSize:
		q := toPath(hashed, here.sides[0].f, here.logSideSize)
		q.Slot.Tail = p.Slot.Tail
		insertTCFB(here, 0, q)

	case that.logSideSize+tailLen >= here.logSideSize:
		orin := uint64(p.Slot.Tail&(p.Slot.Tail-1)) <<
			uint(64-that.logSideSize-headSize-tailSize-1)
		hashed |= orin
		q := toPath(hashed, here.sides[0].f, here.logSideSize)
		q.Slot.Tail = (p.Slot.Tail << uint(here.logSideSize-that.logSideSize)) & (1<<(tailSize+1) - 1)
		insertTCFB(here, 0, q)

	default:
		orin := uint64(p.Slot.Tail&(p.Slot.Tail-1)) <<
			uint(64-that.logSideSize-headSize-tailSize-1)
		hashed |= orin
		shift := here.logSideSize - that.logSideSize - tailLen
		for i := uint64(0); i < (uint64(1) << uint(shift)); i++ {
			orin2 := i << uint(64-here.logSideSize-headSize)
			tmp := hashed | orin2
			q := toPath(tmp, here.sides[0].f, here.logSideSize)
			q.Slot.Tail = tail.Empty
			insertTCFB(here, 0, q)
		}
	}
}
