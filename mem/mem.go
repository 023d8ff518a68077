// Package mem implements the physical frame allocator (§4.1) and the
// page-table-entry bit layout (§3). It is grounded on the teacher's
// mem package (Physmem_t, Pa_t, PTE_* constants), simplified to match
// spec.md's single free list rather than the teacher's per-CPU lists
// since the spec does not call for per-CPU frame caches.
package mem

import (
	"sync"
	"sync/atomic"
)

// PGSHIFT is the base-2 exponent of the frame size.
const PGSHIFT = 12

// PGSIZE is the size in bytes of one physical frame (§3).
const PGSIZE = 1 << PGSHIFT

// PGOFFSET masks the in-page offset of an address.
const PGOFFSET = PGSIZE - 1

// Pa_t is a physical frame index, analogous to the teacher's Pa_t
// (there a byte address; here an index into the simulated RAM region,
// since this module is a tested Go library rather than code running
// directly against real iron — see SPEC_FULL.md).
type Pa_t uint32

// PTE-bit layout (§3): Present, Writable, User, WriteThrough,
// CacheDisable, Accessed, Dirty, PageSize, Global, 3 Available bits.
// The high Available bit is CoW.
const (
	PTE_P  uint32 = 1 << 0
	PTE_W  uint32 = 1 << 1
	PTE_U  uint32 = 1 << 2
	PTE_PWT uint32 = 1 << 3
	PTE_PCD uint32 = 1 << 4
	PTE_A  uint32 = 1 << 5
	PTE_D  uint32 = 1 << 6
	PTE_PS uint32 = 1 << 7
	PTE_G  uint32 = 1 << 8
	// PTE_AVAIL0/1 are ordinary available bits; PTE_COW is the high
	// available bit the CoW fork library repurposes (§3, §4.7).
	PTE_AVAIL0 uint32 = 1 << 9
	PTE_AVAIL1 uint32 = 1 << 10
	PTE_COW    uint32 = 1 << 11

	// PTE_SYSMASK is the set of bits a user caller may supply directly;
	// anything else is stripped at the syscall boundary (§4.2).
	PTE_SYSMASK = PTE_P | PTE_W | PTE_U | PTE_PWT | PTE_PCD | PTE_AVAIL0 | PTE_AVAIL1 | PTE_COW

	// PTE_ADDR would mask the frame-index bits in a packed 32-bit PTE;
	// this implementation keeps the frame index in a separate field
	// (see pgtbl.PTE) so no mask is needed here, but the constant is
	// kept for parity with the teacher's mem.PTE_ADDR.
	PTE_ADDR = ^uint32(0xfff)
)

// Frame describes one physical frame's bookkeeping: reference count and
// free-list link (§3).
type Frame struct {
	refcnt   int32
	nexti    uint32
	reserved bool
}

const nilIdx = ^uint32(0)

// Physmem is the physical frame allocator singleton (§9 calls for an
// explicitly constructed handle rather than an ambient global in new
// code, but the boot sequence still needs exactly one; boot.Boot
// constructs it once via NewPhysmem and never a package-level var).
type Physmem struct {
	mu      sync.Mutex
	frames  []Frame
	ram     []byte // simulated backing store, len(frames)*PGSIZE
	freei   uint32
	freelen int32
}

// NewPhysmem builds an allocator over nframes frames, reserving the
// frames named in reserved (e.g. those under the boot image, the
// VGA/BIOS hole, or already-used page tables, per §4.1) so they never
// appear on the free list.
func NewPhysmem(nframes int, reserved []Pa_t) *Physmem {
	p := &Physmem{
		frames: make([]Frame, nframes),
		ram:    make([]byte, nframes*PGSIZE),
	}
	resv := make(map[Pa_t]bool, len(reserved))
	for _, r := range reserved {
		resv[r] = true
	}
	p.freei = nilIdx
	p.freelen = 0
	// Build the free list LIFO, highest index first, so the first
	// alloc() returns frame 0 — stable, deterministic test behavior.
	for i := nframes - 1; i >= 0; i-- {
		pa := Pa_t(i)
		if resv[pa] {
			p.frames[i].reserved = true
			p.frames[i].refcnt = 0
			continue
		}
		p.frames[i].nexti = p.freei
		p.freei = uint32(i)
		p.freelen++
	}
	return p
}

// NFrames reports the total number of frames under management.
func (p *Physmem) NFrames() int { return len(p.frames) }

// Alloc returns a free frame, optionally zeroing it (§4.1). It returns
// (0, false) if the free list is empty.
func (p *Physmem) Alloc(zero bool) (Pa_t, bool) {
	p.mu.Lock()
	if p.freei == nilIdx {
		p.mu.Unlock()
		return 0, false
	}
	idx := p.freei
	f := &p.frames[idx]
	if f.refcnt != 0 {
		panic("mem: frame on free list with nonzero refcount")
	}
	p.freei = f.nexti
	p.freelen--
	if p.freelen < 0 {
		panic("mem: negative free count")
	}
	f.refcnt = 1
	p.mu.Unlock()

	pa := Pa_t(idx)
	if zero {
		buf := p.Dmap(pa)
		for i := range buf {
			buf[i] = 0
		}
	}
	return pa, true
}

// Free returns a frame to the allocator. Freeing a frame whose
// refcount is still positive is a fatal kernel bug (§4.1).
func (p *Physmem) Free(pa Pa_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f := &p.frames[pa]
	if f.reserved {
		panic("mem: freeing a reserved frame")
	}
	if f.refcnt != 0 {
		panic("mem: freeing frame with nonzero refcount")
	}
	f.nexti = p.freei
	p.freei = uint32(pa)
	p.freelen++
}

// Refcnt returns a frame's current reference count.
func (p *Physmem) Refcnt(pa Pa_t) int {
	return int(atomic.LoadInt32(&p.frames[pa].refcnt))
}

// Refup increments a frame's reference count (§4.2 insert).
func (p *Physmem) Refup(pa Pa_t) {
	c := atomic.AddInt32(&p.frames[pa].refcnt, 1)
	if c <= 0 {
		panic("mem: refup produced nonpositive refcount")
	}
}

// Refdown decrements a frame's reference count and, if it reaches
// zero, returns the frame to the free list. It reports whether the
// frame was freed.
func (p *Physmem) Refdown(pa Pa_t) bool {
	if p.frames[pa].reserved {
		// Reserved boot mappings are not refcounted (§4.2 invariant
		// note: "excluding reserved boot mappings, which are not
		// counted").
		return false
	}
	c := atomic.AddInt32(&p.frames[pa].refcnt, -1)
	if c < 0 {
		panic("mem: refdown produced negative refcount")
	}
	if c == 0 {
		p.Free(pa)
		return true
	}
	return false
}

// Dmap returns a direct byte-slice view of frame pa's contents,
// analogous to the teacher's Physmem_t.Dmap direct-map accessor.
func (p *Physmem) Dmap(pa Pa_t) []byte {
	off := int(pa) * PGSIZE
	return p.ram[off : off+PGSIZE]
}

// Stats reports free/used/reserved frame counts for diag.
func (p *Physmem) Stats() (free, used, reserved int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.frames {
		switch {
		case p.frames[i].reserved:
			reserved++
		case p.frames[i].refcnt == 0:
			free++
		default:
			used++
		}
	}
	return
}
