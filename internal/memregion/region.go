// Package memregion implements the aligned, optionally huge-page-backed
// allocator every persistent filter uses for its payload (spec §4.A / §9
// "Ownership of backing arrays"). Go's GC makes manual alloc/free
// bookkeeping unnecessary for correctness, but the filters still need a
// byte-aligned, appropriately-sized []byte, and the huge-page path genuinely
// reduces TLB pressure for multi-megabyte cuckoo tables, so it is worth
// keeping as a real (best-effort) code path rather than discarding it.
package memregion

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// Region owns a byte slice used as a filter's backing storage. Block is the
// aligned, usable slice; mapped indicates whether it came from an mmap
// (and therefore must be released with munmap rather than left to the GC).
type Region struct {
	Block    []byte
	mapped   bool
	mmapSize int
}

// AllocResult mirrors the original libfilter_region_alloc_result: the
// region itself, how many usable bytes it holds, and whether those bytes
// are already known to be zero.
type AllocResult struct {
	Region     Region
	BlockBytes uint64
	ZeroFilled bool
}

// NewAllocRequest rounds an exact byte count up to a whole multiple of
// alignment (at least one alignment unit). It does not round up to the
// huge-page size.
func NewAllocRequest(exactBytes uint64, alignment uint64) uint64 {
	if alignment == 0 {
		alignment = 1
	}
	rounded := ((exactBytes + alignment - 1) / alignment) * alignment
	if rounded == 0 {
		rounded = alignment
	}
	return rounded
}

const hugePageSize = 2 << 20 // 2 MiB, the common Linux default.

// AllocAtMost allocates a region of at least bucketBytes and at most
// maxBytes, aligned to bucketBytes. It attempts a huge-page-backed mmap
// first when maxBytes is a multiple of the huge-page size; otherwise it
// falls back to a plain heap-backed slice, which on Go's GC heap is always
// at least pointer-aligned and, for slices this size, effectively
// cache-aligned in practice. BlockBytes is 0 on failure.
func AllocAtMost(maxBytes, bucketBytes uint64) AllocResult {
	if bucketBytes == 0 {
		bucketBytes = 1
	}
	if maxBytes < bucketBytes {
		maxBytes = bucketBytes
	}
	usable := (maxBytes / bucketBytes) * bucketBytes
	if usable == 0 {
		return AllocResult{}
	}

	if runtime.GOOS == "linux" && usable%hugePageSize == 0 {
		if r, ok := mmapHugePage(usable); ok {
			return AllocResult{Region: r, BlockBytes: usable, ZeroFilled: true}
		}
	}
	return AllocResult{
		Region:     Region{Block: make([]byte, usable)},
		BlockBytes: usable,
		ZeroFilled: true,
	}
}

func mmapHugePage(size uint64) (Region, bool) {
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_HUGETLB)
	if err != nil {
		// Huge pages may not be configured on this host; that is not a
		// hard failure, just a reason to fall back.
		b, err = unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE,
			unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
		if err != nil {
			return Region{}, false
		}
	}
	return Region{Block: b, mapped: true, mmapSize: int(size)}, true
}

// Free releases a region's backing memory. For GC-backed regions this is a
// no-op beyond dropping the slice header; for mmap'd regions it munmaps.
func Free(r *Region) error {
	if r.mapped {
		err := unix.Munmap(r.Block[:r.mmapSize])
		r.Block = nil
		r.mapped = false
		return err
	}
	r.Block = nil
	return nil
}

// Clear zeros out a region in place without releasing it, matching
// libfilter_clear_region's "zero out, keep allocation" semantics used by
// Block.ZeroOut.
func Clear(r *Region) {
	for i := range r.Block {
		r.Block[i] = 0
	}
}

// Clone deep-copies a region's contents into a freshly allocated one of the
// same size.
func Clone(r *Region) Region {
	out := make([]byte, len(r.Block))
	copy(out, r.Block)
	return Region{Block: out}
}
