package snapshot

import (
	"testing"

	"exoq/defs"
	"exoq/env"
	"exoq/mem"
	"exoq/pgtbl"
)

func setup(t *testing.T, nframes int) (*env.Table, *env.Env, *mem.Physmem, *Table) {
	t.Helper()
	physmem := mem.NewPhysmem(nframes, nil)
	etbl := env.NewTable(2, physmem, &pgtbl.Root{})
	e, err := etbl.Alloc(0)
	if err != defs.OK {
		t.Fatalf("alloc env: %v", err)
	}
	stbl := NewTable(4, physmem)
	return etbl, e, physmem, stbl
}

func writeWord(physmem *mem.Physmem, root *pgtbl.Root, va uint32, val uint32) {
	frame, _, ok := pgtbl.Lookup(root, va)
	if !ok {
		panic("va not mapped")
	}
	buf := physmem.Dmap(frame)
	off := va & uint32(mem.PGOFFSET)
	buf[off] = byte(val)
	buf[off+1] = byte(val >> 8)
	buf[off+2] = byte(val >> 16)
	buf[off+3] = byte(val >> 24)
}

func readWord(physmem *mem.Physmem, root *pgtbl.Root, va uint32) uint32 {
	frame, _, ok := pgtbl.Lookup(root, va)
	if !ok {
		panic("va not mapped")
	}
	buf := physmem.Dmap(frame)
	off := va & uint32(mem.PGOFFSET)
	return uint32(buf[off]) | uint32(buf[off+1])<<8 | uint32(buf[off+2])<<16 | uint32(buf[off+3])<<24
}

// Scenario 1, §8: snapshot/resume round trip.
func TestSnapshotResumeRoundTrip(t *testing.T) {
	etbl, e, physmem, stbl := setup(t, 32)
	va := uint32(0x00800000)
	frame, _ := physmem.Alloc(true)
	if !pgtbl.Insert(physmem, e.Pgdir, frame, va, mem.PTE_P|mem.PTE_U|mem.PTE_W) {
		t.Fatal("map failed")
	}
	writeWord(physmem, e.Pgdir, va, 0xDEAD)

	id, err := stbl.Take(e)
	if err != defs.OK {
		t.Fatalf("snapshot: %v", err)
	}

	writeWord(physmem, e.Pgdir, va, 0xBEEF)
	if got := readWord(physmem, e.Pgdir, va); got != 0xBEEF {
		t.Fatalf("sanity: got %#x, want 0xBEEF", got)
	}

	if err := stbl.Resume(etbl, e, id, true); err != defs.OK {
		t.Fatalf("resume: %v", err)
	}
	if got := readWord(physmem, e.Pgdir, va); got != 0xDEAD {
		t.Fatalf("after resume: got %#x, want 0xDEAD", got)
	}
	if e.Status != env.Running {
		t.Fatalf("status after resuming self = %v, want Running", e.Status)
	}
}

func TestResumeIsAllOrNothingOnNoMem(t *testing.T) {
	etbl, e, physmem, stbl := setup(t, 3)

	va := uint32(0x00800000)
	frame, _ := physmem.Alloc(true)
	pgtbl.Insert(physmem, e.Pgdir, frame, va, mem.PTE_P|mem.PTE_U|mem.PTE_W)

	id, err := stbl.Take(e)
	if err != defs.OK {
		t.Fatalf("snapshot: %v", err)
	}

	// Exhaust remaining frames so Resume's pre-allocation phase fails.
	for {
		if _, ok := physmem.Alloc(false); !ok {
			break
		}
	}

	beforeStatus := e.Status
	beforeVal := readWord(physmem, e.Pgdir, va)
	if err := stbl.Resume(etbl, e, id, true); err != defs.NoMem {
		t.Fatalf("resume with exhausted allocator: %v", err)
	}
	if e.Status != beforeStatus {
		t.Fatal("environment status must be unchanged on failed resume")
	}
	if readWord(physmem, e.Pgdir, va) != beforeVal {
		t.Fatal("environment memory must be unchanged on failed resume")
	}
}
