package env

import (
	"testing"

	"exoq/defs"
	"exoq/mem"
	"exoq/pgtbl"
)

func newTestTable(n int) (*Table, *mem.Physmem) {
	physmem := mem.NewPhysmem(64, nil)
	kernel := &pgtbl.Root{}
	return NewTable(n, physmem, kernel), physmem
}

func TestAllocBumpsGenerationOnReuse(t *testing.T) {
	tbl, _ := newTestTable(2)
	e1, err := tbl.Alloc(0)
	if err != defs.OK {
		t.Fatalf("alloc: %v", err)
	}
	id1 := e1.Id
	tbl.Destroy(e1)
	tbl.Free(e1)

	e2, err := tbl.Alloc(0)
	if err != defs.OK {
		t.Fatalf("realloc: %v", err)
	}
	if e2.Id.Index() != id1.Index() {
		t.Fatalf("expected same slot reused, got %d vs %d", e2.Id.Index(), id1.Index())
	}
	if e2.Id == id1 {
		t.Fatal("reused slot must produce a new id (generation bump)")
	}
}

func TestAllocExhaustion(t *testing.T) {
	tbl, _ := newTestTable(1)
	if _, err := tbl.Alloc(0); err != defs.OK {
		t.Fatalf("first alloc: %v", err)
	}
	if _, err := tbl.Alloc(0); err != defs.NoFreeEnv {
		t.Fatalf("second alloc should exhaust table, got %v", err)
	}
}

func TestIdToEnvPermissionChecks(t *testing.T) {
	tbl, _ := newTestTable(4)
	parent, _ := tbl.Alloc(0)
	child, _ := tbl.Alloc(parent.Id)
	stranger, _ := tbl.Alloc(0)

	if _, err := tbl.IdToEnv(child.Id, defs.PermSelf, parent); err != defs.BadEnv {
		t.Fatal("PermSelf should reject non-self target")
	}
	if _, err := tbl.IdToEnv(child.Id, defs.PermParent, parent); err != defs.OK {
		t.Fatal("PermParent should accept child of caller")
	}
	if _, err := tbl.IdToEnv(stranger.Id, defs.PermParent, parent); err != defs.BadEnv {
		t.Fatal("PermParent should reject unrelated env")
	}
	if _, err := tbl.IdToEnv(parent.Id, defs.PermParent, parent); err != defs.OK {
		t.Fatal("PermParent should accept caller's own id")
	}

	tbl.Destroy(stranger)
	tbl.Free(stranger)
	if _, err := tbl.IdToEnv(stranger.Id, defs.PermAny, nil); err != defs.BadEnv {
		t.Fatal("stale id after free must be BadEnv even under PermAny")
	}
}

func TestSchedulerRoundRobin(t *testing.T) {
	tbl, _ := newTestTable(3)
	a, _ := tbl.Alloc(0)
	b, _ := tbl.Alloc(0)
	tbl.SetStatus(a, Runnable)
	tbl.SetStatus(b, Runnable)

	first, ok := tbl.Yield(nil)
	if !ok {
		t.Fatal("expected a runnable env")
	}
	second, ok := tbl.Yield(first)
	if !ok {
		t.Fatal("expected another runnable env")
	}
	if first.Id == second.Id {
		t.Fatal("round robin should not pick the same env twice in a row while another is runnable")
	}
}

func TestSchedulerRerunsSoleRunningCaller(t *testing.T) {
	tbl, _ := newTestTable(2)
	a, _ := tbl.Alloc(0)
	a.Status = Running
	got, ok := tbl.Yield(a)
	if !ok || got != a {
		t.Fatal("sole running caller with nobody else runnable should be re-run")
	}
}

func TestSchedulerHaltsWhenNothingRunnable(t *testing.T) {
	tbl, _ := newTestTable(2)
	if _, ok := tbl.Yield(nil); ok {
		t.Fatal("expected no runnable env")
	}
}
