package dispatch

import (
	"testing"

	"exoq/env"
	"exoq/mem"
	"exoq/pgtbl"
	"exoq/trap"
)

func setupEnvWithXstack(t *testing.T) (*env.Env, *mem.Physmem) {
	t.Helper()
	physmem := mem.NewPhysmem(16, nil)
	tbl := env.NewTable(1, physmem, &pgtbl.Root{})
	e, _ := tbl.Alloc(0)
	frame, ok := physmem.Alloc(true)
	if !ok {
		t.Fatal("alloc xstack frame")
	}
	xstackVA := pgtbl.UXSTACKTOP - uint32(mem.PGSIZE)
	if !pgtbl.Insert(physmem, e.Pgdir, frame, xstackVA, mem.PTE_P|mem.PTE_U|mem.PTE_W) {
		t.Fatal("map xstack")
	}
	e.PgfaultUpcall = 0x00900000
	return e, physmem
}

func TestPageFaultDispatchesToUpcallNonNested(t *testing.T) {
	e, physmem := setupEnvWithXstack(t)
	f := &trap.Frame{TrapNo: trap.VecPageFault, FaultAddr: 0x00801000, Esp: pgtbl.USTACKTOP - 4}
	f.MarkUserTrap()

	if !PageFault(e, f, physmem) {
		t.Fatal("expected page fault to resolve via upcall")
	}
	if f.Eip != e.PgfaultUpcall {
		t.Fatalf("eip = %#x, want upcall %#x", f.Eip, e.PgfaultUpcall)
	}
	wantEsp := pgtbl.UXSTACKTOP - trap.UTrapframeSize
	if f.Esp != wantEsp {
		t.Fatalf("esp = %#x, want %#x", f.Esp, wantEsp)
	}
}

func TestPageFaultNoUpcallDestroys(t *testing.T) {
	e, physmem := setupEnvWithXstack(t)
	e.PgfaultUpcall = 0
	f := &trap.Frame{TrapNo: trap.VecPageFault, FaultAddr: 0x00801000, Esp: pgtbl.USTACKTOP - 4}
	f.MarkUserTrap()
	if PageFault(e, f, physmem) {
		t.Fatal("expected destroy when no upcall registered")
	}
}

func TestPageFaultMissingXstackDestroys(t *testing.T) {
	physmem := mem.NewPhysmem(16, nil)
	tbl := env.NewTable(1, physmem, &pgtbl.Root{})
	e, _ := tbl.Alloc(0)
	e.PgfaultUpcall = 0x00900000
	f := &trap.Frame{TrapNo: trap.VecPageFault, FaultAddr: 0x00801000, Esp: pgtbl.USTACKTOP - 4}
	f.MarkUserTrap()
	if PageFault(e, f, physmem) {
		t.Fatal("expected destroy when exception stack unmapped")
	}
}

// Scenario 6, §8: a fault inside the upcall nests, and the second
// record sits below the first with a 4-byte scratch word separating
// them.
func TestPageFaultNestedLeavesScratchGap(t *testing.T) {
	e, physmem := setupEnvWithXstack(t)
	f1 := &trap.Frame{TrapNo: trap.VecPageFault, FaultAddr: 0x00801000, Esp: pgtbl.USTACKTOP - 4}
	f1.MarkUserTrap()
	if !PageFault(e, f1, physmem) {
		t.Fatal("first fault should resolve")
	}
	firstRecBase := f1.Esp

	// Simulate a second fault occurring while still running on the
	// exception stack (esp now equals firstRecBase, within range).
	f2 := &trap.Frame{TrapNo: trap.VecPageFault, FaultAddr: 0x00801004, Esp: firstRecBase}
	f2.MarkUserTrap()
	if !PageFault(e, f2, physmem) {
		t.Fatal("nested fault should resolve")
	}
	secondRecBase := f2.Esp
	gotGap := firstRecBase - (secondRecBase + trap.UTrapframeSize)
	if gotGap != trap.UScratchSize {
		t.Fatalf("scratch gap = %d bytes, want %d", gotGap, trap.UScratchSize)
	}
	if secondRecBase >= firstRecBase {
		t.Fatal("second record must sit below the first")
	}
}

func TestDispatchRoutesVectors(t *testing.T) {
	e, physmem := setupEnvWithXstack(t)
	bp := &trap.Frame{TrapNo: trap.VecBreakpoint}
	if got := Dispatch(e, bp, physmem); got != Monitor {
		t.Fatalf("breakpoint dispatch = %v, want Monitor", got)
	}
	sc := &trap.Frame{TrapNo: trap.VecSyscall}
	if got := Dispatch(e, sc, physmem); got != Syscall {
		t.Fatalf("syscall dispatch = %v, want Syscall", got)
	}
	other := &trap.Frame{TrapNo: 99, CS: trap.UserCodeSegment}
	if got := Dispatch(e, other, physmem); got != Destroyed {
		t.Fatalf("unknown user-mode vector = %v, want Destroyed", got)
	}
}

func TestKernelModeUnhandledTrapPanics(t *testing.T) {
	e, physmem := setupEnvWithXstack(t)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unhandled kernel-mode trap")
		}
	}()
	kf := &trap.Frame{TrapNo: 99, CS: 0x08}
	Dispatch(e, kf, physmem)
}
