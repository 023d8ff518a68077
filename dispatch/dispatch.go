// Package dispatch implements the kernel-entry checklist and trap
// dispatcher of §4.4: the five kernel-entry rules, routing page faults
// to the page-fault handler (with upcall construction and nesting),
// handing breakpoint/debug traps to the external monitor, and the
// destroy-or-panic policy for every other vector. Grounded on
// original_source/lab4/jos/kern/trap.c's trap_dispatch/page_fault_handler;
// the big-kernel-lock entry rules (§5) have no teacher counterpart and
// follow the kernel-entry rules directly.
package dispatch

import (
	"exoq/env"
	"exoq/mem"
	"exoq/pgtbl"
	"exoq/trap"
)

// Outcome reports what the dispatcher decided to do with a trap.
type Outcome int

const (
	// Resume means the environment in f (as possibly modified, e.g.
	// page-fault upcall entry) should be resumed.
	Resume Outcome = iota
	// Destroyed means the faulting environment was destroyed and the
	// scheduler should pick another.
	Destroyed
	// Syscall means the caller must decode and invoke the syscall
	// table (package syscall); dispatch itself does not decode
	// arguments.
	Syscall
	// Monitor means a breakpoint/debug trap occurred and control
	// should hand off to the external interactive monitor (§1, out of
	// scope here).
	Monitor
	// KernelPanic means an unhandled trap arrived from kernel mode: a
	// fatal, whole-machine condition (§4.4 rule, §6).
	KernelPanic
)

// PreEntry applies the kernel-entry checklist (§4.4) that runs before
// any trap is dispatched:
//  1. clear the direction flag (modeled as a no-op: nothing in this
//     Go implementation relies on x86 string-instruction direction);
//  2. halt if another CPU has already panicked;
//  3. reacquire the big kernel lock if resuming from a cooperative
//     yield that released it;
//  4. assert interrupts are disabled in the saved frame;
//  5. if the trap came from user mode, copy the on-stack frame into
//     the environment's saved frame and use that copy henceforth.
//
// anotherCPUPanicked and resumingFromReleasedLock let callers drive
// rules 2-3; reacquire is invoked when rule 3 applies. PreEntry panics
// (machine abort, §6) if another CPU has panicked or if interrupts are
// not disabled in f, and returns the frame dispatch should operate on.
func PreEntry(e *env.Env, f *trap.Frame, anotherCPUPanicked, resumingFromReleasedLock bool, reacquire func()) *trap.Frame {
	if anotherCPUPanicked {
		panic("dispatch: halting, another CPU panicked")
	}
	if resumingFromReleasedLock && reacquire != nil {
		reacquire()
	}
	if f.Eflags&trap.EFLAGS_IF != 0 {
		panic("dispatch: trap frame has interrupts enabled")
	}
	if f.CrossedPrivilege() {
		e.Tf = *f
		return &e.Tf
	}
	return f
}

// Dispatch routes a trap frame already processed by PreEntry (§4.4).
func Dispatch(e *env.Env, f *trap.Frame, physmem *mem.Physmem) Outcome {
	switch f.TrapNo {
	case trap.VecPageFault:
		if PageFault(e, f, physmem) {
			return Resume
		}
		return Destroyed
	case trap.VecBreakpoint, trap.VecDebug:
		return Monitor
	case trap.VecSyscall:
		return Syscall
	default:
		if f.CS&0x3 == 0 {
			// Kernel code segment: an unhandled trap in kernel mode is
			// a fatal, whole-machine condition (§4.4, §6).
			panic("dispatch: unhandled trap in kernel mode")
		}
		return Destroyed
	}
}

// PageFault implements the page-fault handler (§4.4). It returns true
// if the fault was resolved by dispatching to a registered upcall (f
// is rewritten to resume at the upcall entry point), or false if the
// environment must be destroyed.
//
// Kernel-mode page faults (no privilege crossing) are always fatal
// (§4.4): PreEntry passes such frames through unchanged, and PageFault
// panics on them.
func PageFault(e *env.Env, f *trap.Frame, physmem *mem.Physmem) bool {
	if !f.CrossedPrivilege() {
		panic("dispatch: page fault in kernel mode")
	}
	if e.PgfaultUpcall == 0 {
		return false
	}

	xstackBottom := pgtbl.UXSTACKTOP - uint32(mem.PGSIZE)
	if _, _, ok := pgtbl.Lookup(e.Pgdir, xstackBottom); !ok {
		// No exception stack mapped: destroy the environment (§4.4).
		return false
	}

	rec := trap.UTrapframe{
		Regs:    f.Regs,
		FaultVA: f.FaultAddr,
		ErrCode: f.ErrCode,
		Eip:     f.Eip,
		Eflags:  f.Eflags,
		Esp:     f.Esp,
	}

	nested := f.Esp >= xstackBottom && f.Esp < pgtbl.UXSTACKTOP
	var recTop uint32
	if nested {
		// Leave a 4-byte scratch slot below the current exception
		// stack position for the upcall epilogue to use (§4.4, §6,
		// §8 scenario 6).
		recTop = f.Esp - trap.UScratchSize
	} else {
		recTop = pgtbl.UXSTACKTOP
	}
	recBase := recTop - trap.UTrapframeSize
	if recBase < xstackBottom {
		// Exception stack overflow: treat like a missing stack.
		return false
	}

	if !writeUTrapframe(physmem, e.Pgdir, recBase, rec) {
		return false
	}

	f.Eip = e.PgfaultUpcall
	f.Esp = recBase
	return true
}

// writeUTrapframe copies rec's marshaled bytes into the environment's
// address space at va, which must lie within a single present,
// user-accessible page.
func writeUTrapframe(physmem *mem.Physmem, root *pgtbl.Root, va uint32, rec trap.UTrapframe) bool {
	frame, pte, ok := pgtbl.Lookup(root, va)
	if !ok || pte.Flags&mem.PTE_U == 0 {
		return false
	}
	off := va & uint32(mem.PGOFFSET)
	if int(off)+trap.UTrapframeSize > mem.PGSIZE {
		return false
	}
	buf := physmem.Dmap(frame)
	copy(buf[off:], rec.Marshal())
	return true
}
