// Package pgtbl implements the two-level page-table engine (§4.2):
// walk/insert/remove/lookup over a root table of 1024 entries indexing
// second-level tables of 1024 entries each, mapping a 4 GiB linear
// space (§3). Grounded on the teacher's vm.Vm_t and mem.Pmap_t, which
// represent a page-table page as a flat [1024]Pa_t array of packed
// PTEs; this module keeps the flag bits and frame index as separate
// fields (see PTE) rather than packing them into one machine word,
// since nothing here walks real hardware-format tables.
package pgtbl

import "exoq/mem"

// PTE is one page-table entry: permission/status bits plus the frame
// it references (§3). Installing or removing a PTE adjusts the
// referenced frame's refcount (§4.2).
type PTE struct {
	Flags uint32
	Frame mem.Pa_t
}

func (e PTE) present() bool { return e.Flags&mem.PTE_P != 0 }

// Second is a second-level table: 1024 leaf PTEs.
type Second [1024]PTE

// rootEntry is a root-table slot: either empty or pointing at a
// second-level table.
type rootEntry struct {
	flags uint32
	frame mem.Pa_t // frame backing the second-level table
	table *Second
}

// Root is the root page table: 1024 entries, each indexing a
// second-level table (§3).
type Root struct {
	entries [1024]rootEntry
}

func split(va uint32) (rootIdx, secondIdx, off uint32) {
	rootIdx = (va >> 22) & 0x3ff
	secondIdx = (va >> 12) & 0x3ff
	off = va & uint32(mem.PGOFFSET)
	return
}

// Walk returns the leaf PTE for va, optionally installing a freshly
// zeroed second-level table if one does not exist (§4.2). It returns
// nil if create is false and no second-level table exists, or if
// allocation fails.
func Walk(phys *mem.Physmem, root *Root, va uint32, create bool) *PTE {
	ri, si, _ := split(va)
	re := &root.entries[ri]
	if re.table == nil {
		if !create {
			return nil
		}
		pa, ok := phys.Alloc(true)
		if !ok {
			return nil
		}
		re.table = new(Second)
		re.frame = pa
		re.flags = mem.PTE_P | mem.PTE_W | mem.PTE_U
	}
	return &re.table[si]
}

// Insert installs va -> frame with perm (§4.2). If va was previously
// mapped to a different frame, that frame's refcount is decremented.
// The newly inserted frame is incremented before the old mapping is
// removed, so aliasing a frame onto itself is safe.
func Insert(phys *mem.Physmem, root *Root, frame mem.Pa_t, va uint32, perm uint32) bool {
	pte := Walk(phys, root, va, true)
	if pte == nil {
		return false
	}
	had := pte.present()
	oldFrame := pte.Frame

	// Refup the new frame before refdowning the old one (even when
	// they're the same frame) so the transient refcount never passes
	// through zero when a frame is aliased onto itself.
	phys.Refup(frame)
	if had {
		phys.Refdown(oldFrame)
	}
	pte.Flags = (perm & mem.PTE_SYSMASK) | mem.PTE_P
	pte.Frame = frame
	return true
}

// Remove unmaps va if mapped, decrementing the target frame's refcount
// (§4.2). TLB invalidation is the caller's responsibility (there is no
// real TLB in this simulated model); Remove itself only updates the
// table.
func Remove(phys *mem.Physmem, root *Root, va uint32) {
	ri, si, _ := split(va)
	re := &root.entries[ri]
	if re.table == nil {
		return
	}
	pte := &re.table[si]
	if !pte.present() {
		return
	}
	phys.Refdown(pte.Frame)
	*pte = PTE{}
}

// Lookup returns the frame mapped at va, if any, and the PTE itself.
func Lookup(root *Root, va uint32) (mem.Pa_t, *PTE, bool) {
	ri, si, _ := split(va)
	re := &root.entries[ri]
	if re.table == nil {
		return 0, nil, false
	}
	pte := &re.table[si]
	if !pte.present() {
		return 0, pte, false
	}
	return pte.Frame, pte, true
}

// KernelSlotStart is the root-table index at which the shared kernel
// region begins (§3: "every address space maps the kernel region
// identically and read-only-to-user"). Root-table indices below this
// are user-private; indices at or above it are aliased across every
// address space by AliasKernelRange.
const KernelSlotStart = 768

// AliasKernelRange shares dst's root entries in [KernelSlotStart,1024)
// with src's, pointing both at the same second-level tables (and
// hence the same frames) instead of copying leaf PTEs one at a time.
// Called once when an address space is created so the kernel mapping
// (and the environment-table mirror, §3) is identical everywhere.
func AliasKernelRange(dst, src *Root) {
	for i := KernelSlotStart; i < len(dst.entries); i++ {
		dst.entries[i] = src.entries[i]
	}
}

// Flush unmaps every page reachable through root's entries below
// belowSlot, decrementing each referenced frame, and frees any
// second-level table that becomes empty as a result (§4.3
// FlushAddrSpace). Entries at or above belowSlot (the shared kernel
// region, §3) are left untouched.
func Flush(phys *mem.Physmem, root *Root, belowSlot int) {
	for i := 0; i < belowSlot && i < len(root.entries); i++ {
		re := &root.entries[i]
		if re.table == nil {
			continue
		}
		for j := range re.table {
			pte := &re.table[j]
			if pte.present() {
				phys.Refdown(pte.Frame)
				*pte = PTE{}
			}
		}
		phys.Refdown(re.frame)
		*re = rootEntry{}
	}
}

// PTEFlags reads back the flags of the PTE mapping va, if present.
// This stands in for the uvpt/uvpd self-map trick (§3, §9): in real
// JOS a process peeks at its own page table via a read-only mapping of
// the page table itself so it need not trap into the kernel; here
// "user" code (package ucow) is simply handed the address space object
// directly, so the same no-syscall inspection is achieved by calling
// this accessor instead of walking a hardware self-map.
func (r *Root) PTEFlags(va uint32) (uint32, bool) {
	_, pte, ok := Lookup(r, va)
	if !ok {
		return 0, false
	}
	return pte.Flags, true
}

// SanitizePerm keeps only the bits a user caller may supply directly
// (§4.2): Present|Writable|User|WriteThrough|CacheDisable|Available.
func SanitizePerm(perm uint32) uint32 {
	return perm & mem.PTE_SYSMASK
}

// CheckUserPresent reports whether perm describes a mapping that is
// both present and user-accessible, the check applied at the
// syscall boundary (§4.2).
func CheckUserPresent(perm uint32) bool {
	return perm&mem.PTE_U != 0 && perm&mem.PTE_P != 0
}
