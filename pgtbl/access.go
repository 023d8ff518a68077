package pgtbl

import "exoq/mem"

// CheckUserRange reports whether every page covering [va, va+n) is
// mapped Present and User in root, the validation system calls must
// perform on any caller-supplied pointer range before touching it
// (§4.4): "a failure destroys the caller (policy: user supplying bad
// pointers to the kernel is fatal to that user, not the kernel)".
func CheckUserRange(root *Root, va uint32, n int) bool {
	if n < 0 {
		return false
	}
	start := va &^ uint32(mem.PGOFFSET)
	end := va + uint32(n)
	for p := start; p < end; p += uint32(mem.PGSIZE) {
		_, pte, ok := Lookup(root, p)
		if !ok || !CheckUserPresent(pte.Flags) {
			return false
		}
	}
	return true
}

// ReadUser copies n bytes starting at va out of root's address space.
// The caller must have already validated the range with
// CheckUserRange.
func ReadUser(phys *mem.Physmem, root *Root, va uint32, n int) []byte {
	out := make([]byte, n)
	copied := 0
	for copied < n {
		cur := va + uint32(copied)
		frame, _, ok := Lookup(root, cur&^uint32(mem.PGOFFSET))
		if !ok {
			panic("pgtbl: ReadUser on unvalidated range")
		}
		off := cur & uint32(mem.PGOFFSET)
		page := phys.Dmap(frame)
		k := copy(out[copied:], page[off:])
		copied += k
	}
	return out
}

// WriteUser copies src into root's address space starting at va. The
// caller must have already validated the range with CheckUserRange.
func WriteUser(phys *mem.Physmem, root *Root, va uint32, src []byte) {
	copied := 0
	for copied < len(src) {
		cur := va + uint32(copied)
		frame, _, ok := Lookup(root, cur&^uint32(mem.PGOFFSET))
		if !ok {
			panic("pgtbl: WriteUser on unvalidated range")
		}
		off := cur & uint32(mem.PGOFFSET)
		page := phys.Dmap(frame)
		k := copy(page[off:], src[copied:])
		copied += k
	}
}
