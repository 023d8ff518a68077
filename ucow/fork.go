// Package ucow implements user-level copy-on-write fork (§4.7): a
// library built entirely out of kernel primitives (exofork, page_map,
// page_alloc, env_set_pgfault_upcall) rather than a kernel feature.
// Grounded on original_source/lab4/jos/lib/fork.c's pgfault/duppage/fork
// trio, translated from the C self-map idiom (uvpt/uvpd) into this
// module's documented stand-in: a CoW environment is handed its own
// pgtbl.Root and mem.Physmem directly (see pgtbl.Root.PTEFlags) rather
// than reading a hardware self-map, since there is no instruction-level
// user/kernel boundary to enforce in a host-tested Go library.
package ucow

import (
	"exoq/defs"
	"exoq/env"
	"exoq/mem"
	"exoq/pgtbl"
	"exoq/trap"
)

// Syscalls is the subset of the kernel's syscall table fork needs. A
// real caller satisfies this by routing to syscall.Kernel.Dispatch;
// tests supply a fake.
type Syscalls interface {
	Exofork() (child uint32, err defs.Err)
	PageAlloc(envid, va, perm uint32) defs.Err
	PageMap(srcEnvid, srcVA, dstEnvid, dstVA, perm uint32) defs.Err
	PageUnmap(envid, va uint32) defs.Err
	SetPgfaultUpcall(envid, upcall uint32) defs.Err
	SetStatus(envid uint32, status env.Status) defs.Err
}

// AddressSpace is the CoW library's read/write handle onto the
// environment it runs inside, standing in for the combination of
// ordinary memory access (automatic in real hardware once a page is
// mapped) and the uvpt self-map (§3) that original fork.c relies on.
type AddressSpace struct {
	Root *pgtbl.Root
	Phys *mem.Physmem
}

// pteFlags reads back a page's permission bits without a system call,
// the self-map trick's entire point (§3 invariant).
func (a AddressSpace) pteFlags(va uint32) (uint32, bool) {
	return a.Root.PTEFlags(va)
}

// PFTEMP is the fixed scratch virtual address the CoW fault handler
// uses to stage a private copy before remapping it over the faulting
// page (§4.7). Chosen below ULIM, clear of UXSTACKTOP/USTACKTOP.
const PFTEMP = pgtbl.UTOP - 3*uint32(mem.PGSIZE)

// duppage maps virtual page va (in self, envid 0 meaning "self" per
// the original ABI — here the caller's own id, passed explicitly since
// this library has no ambient "current environment") into child. If
// the page is Writable or already CoW, both the child's and the
// caller's own mapping are remapped Present|User|CoW (never Writable);
// a plain read-only page is mapped into the child unchanged (§4.7).
func duppage(sys Syscalls, space AddressSpace, selfID, childID uint32, va uint32) defs.Err {
	flags, ok := space.pteFlags(va)
	if !ok {
		return defs.Inval
	}
	perm := flags & mem.PTE_SYSMASK

	if perm&mem.PTE_W != 0 || perm&mem.PTE_COW != 0 {
		cowPerm := mem.PTE_P | mem.PTE_U | mem.PTE_COW
		if err := sys.PageMap(selfID, va, childID, va, cowPerm); err != defs.OK {
			return err
		}
		// Re-remap our own mapping CoW too: the parent may still write
		// to this page after the child exists, and that write must
		// trap so the parent gets its own private copy (§4.7 comment
		// in duppage).
		if err := sys.PageMap(selfID, va, selfID, va, cowPerm); err != defs.OK {
			return err
		}
		return defs.OK
	}
	return sys.PageMap(selfID, va, childID, va, perm)
}

// Fork implements user-level CoW fork (§4.7 protocol):
//  1. register the CoW upcall for self;
//  2. exofork a child;
//  3. duppage every mapped page in [UTEXT, progBreak) and the normal
//     user stack page;
//  4. allocate a fresh (never-CoW) exception stack for the child;
//  5. register the CoW upcall in the child;
//  6. mark the child RUNNABLE.
//
// Unlike original_source/lab4/jos/lib/fork.c, the dangling semicolon
// after the set_pgfault_upcall check (§9 design notes: "the intended
// behavior is: return only on error") is not reproduced — Fork returns
// immediately only when that call actually fails.
func Fork(sys Syscalls, space AddressSpace, selfID uint32, progBreak, upcall uint32) (uint32, defs.Err) {
	if err := sys.SetPgfaultUpcall(selfID, upcall); err != defs.OK {
		return 0, err
	}
	child, err := sys.Exofork()
	if err != defs.OK {
		return 0, err
	}

	for va := uint32(pgtbl.UTEXT); va < progBreak; va += uint32(mem.PGSIZE) {
		if _, ok := space.pteFlags(va); !ok {
			continue
		}
		if err := duppage(sys, space, selfID, child, va); err != defs.OK {
			return 0, err
		}
	}

	stackVA := pgtbl.USTACKTOP - uint32(mem.PGSIZE)
	if _, ok := space.pteFlags(stackVA); ok {
		if err := duppage(sys, space, selfID, child, stackVA); err != defs.OK {
			return 0, err
		}
	}

	xstackVA := pgtbl.UXSTACKTOP - uint32(mem.PGSIZE)
	if err := sys.PageAlloc(child, xstackVA, mem.PTE_P|mem.PTE_U|mem.PTE_W); err != defs.OK {
		return 0, err
	}

	if err := sys.SetPgfaultUpcall(child, upcall); err != defs.OK {
		return 0, err
	}

	if err := sys.SetStatus(child, env.Runnable); err != defs.OK {
		return 0, err
	}

	return child, defs.OK
}

// HandlePageFault implements the CoW fault handler (§4.7): on a write
// to a CoW page, stage a private copy at PFTEMP, copy the faulting
// page's contents in, remap it Writable over the faulting address, and
// unmap the scratch slot. It panics (destroying the user environment,
// matching "panic the user environment" in §4.7) if the fault was not
// a write to a CoW page.
func HandlePageFault(sys Syscalls, space AddressSpace, selfID uint32, utf trap.UTrapframe) defs.Err {
	va := utf.FaultVA &^ uint32(mem.PGOFFSET)
	const FEC_WR = 1 << 1 // error-code bit 1: fault was a write (§4.4)

	flags, ok := space.pteFlags(va)
	if utf.ErrCode&FEC_WR == 0 || !ok || flags&mem.PTE_COW == 0 {
		panic("ucow: page fault not a write to a copy-on-write page")
	}

	if err := sys.PageAlloc(selfID, PFTEMP, mem.PTE_P|mem.PTE_U|mem.PTE_W); err != defs.OK {
		return err
	}
	copy(space.Phys.Dmap(mustFrame(space, PFTEMP)), space.Phys.Dmap(mustFrame(space, va)))
	if err := sys.PageMap(selfID, PFTEMP, selfID, va, mem.PTE_P|mem.PTE_U|mem.PTE_W); err != defs.OK {
		return err
	}
	return sys.PageUnmap(selfID, PFTEMP)
}

func mustFrame(space AddressSpace, va uint32) mem.Pa_t {
	frame, _, ok := pgtbl.Lookup(space.Root, va)
	if !ok {
		panic("ucow: expected va to be mapped")
	}
	return frame
}
