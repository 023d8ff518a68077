package pgtbl

import "exoq/mem"

// Address-space layout constants (§3). KernelSlotStart picks the
// classic 3 GiB/1 GiB split (common to many 32-bit kernels) rather
// than JOS's exact numbers, since spec.md fixes the layout by region
// name, not by literal address; UTOP lands on a root-table slot
// boundary so AliasKernelRange/Flush can operate on whole slots.
const (
	// UTEXT is the lowest address of user text/data/heap (§3).
	UTEXT uint32 = 0x00800000

	// UTOP is the first address of the kernel region: everything at
	// or above UTOP is identical (and, for [UTOP,ULIM), read-only) in
	// every address space (§3).
	UTOP uint32 = uint32(KernelSlotStart) << 22

	// ULIM is the end of the read-only user-visible kernel data
	// window (environment-table mirror, self-map) and the start of
	// the fully privileged kernel region (§3). One root-table slot
	// (4 MiB) is reserved for it.
	ULIM uint32 = UTOP + (1 << 22)

	// UXSTACKTOP is the top of the one-page user exception stack
	// (§3): its range is [UXSTACKTOP-PGSIZE, UXSTACKTOP).
	UXSTACKTOP uint32 = UTOP

	// USTACKTOP is the top of the one-page normal user stack (§3):
	// its range is [USTACKTOP-PGSIZE, USTACKTOP). It sits one page
	// below the exception stack.
	USTACKTOP uint32 = UTOP - uint32(mem.PGSIZE)
)
