// Package snapshot implements the environment-snapshot facility
// (§4.6): atomic checkpoint and all-or-nothing restore of an
// environment's user-visible state. Grounded on the teacher's vm.Vm_t
// clone-style address-space walking; the "allocate-a-dummy-head
// linked list" pattern the original source uses (§9 design notes) is
// replaced here with a plain slice, the "cleaner abstraction" the
// design notes call for.
package snapshot

import (
	"exoq/defs"
	"exoq/env"
	"exoq/mem"
	"exoq/pgtbl"
	"exoq/trap"
)

// page is one captured {va, perm, frame} triple (§3 Snapshot).
type page struct {
	va    uint32
	perm  uint32
	frame mem.Pa_t
}

// Snapshot is a captured, restorable copy of an environment's
// user-visible state (§3). Its lifetime is independent of the
// environment's: a Snapshot holds its own references to the frames it
// captured.
type Snapshot struct {
	owner env.Id
	pages []page
	regs  trap.Frame
}

// Table is the snapshot table: a handle holding every live Snapshot,
// indexed by an opaque id, constructed explicitly (§9) rather than as
// an ambient global.
type Table struct {
	physmem *mem.Physmem
	slots   []*Snapshot
}

// NewTable builds a snapshot table with capacity n.
func NewTable(n int, physmem *mem.Physmem) *Table {
	return &Table{physmem: physmem, slots: make([]*Snapshot, n)}
}

// Id identifies a live snapshot within a Table.
type Id int

// Take captures e's address space and register file (§4.6 snapshot):
//  1. reserve an empty snapshot slot;
//  2. walk user space in page order, copying each mapped page into a
//     freshly allocated frame;
//  3. capture the register file;
//  4. on any allocation failure, free everything captured so far and
//     report NoMem.
func (t *Table) Take(e *env.Env) (Id, defs.Err) {
	slot := -1
	for i, s := range t.slots {
		if s == nil {
			slot = i
			break
		}
	}
	if slot == -1 {
		return -1, defs.NoMem
	}

	snap := &Snapshot{owner: e.Id, regs: e.Tf}
	for va := uint32(0); va < pgtbl.UTOP; va += uint32(mem.PGSIZE) {
		frame, pte, ok := pgtbl.Lookup(e.Pgdir, va)
		if !ok {
			continue
		}
		newFrame, ok := t.physmem.Alloc(false)
		if !ok {
			t.freeAll(snap)
			return -1, defs.NoMem
		}
		copy(t.physmem.Dmap(newFrame), t.physmem.Dmap(frame))
		snap.pages = append(snap.pages, page{va: va, perm: pte.Flags, frame: newFrame})
	}

	t.slots[slot] = snap
	return Id(slot), defs.OK
}

func (t *Table) freeAll(snap *Snapshot) {
	for _, p := range snap.pages {
		t.physmem.Refdown(p.frame)
	}
}

// Resume performs the atomic, all-or-nothing rollback of §4.6:
//  1. pre-allocate every frame the snapshot needs, copying contents,
//     into a shadow list, before touching the environment at all; any
//     allocation failure aborts with NoMem and no observable change;
//  2. flush the environment's current user address space;
//  3. install the shadow mappings at their recorded virtual addresses
//     and permissions;
//  4. restore the register file;
//  5. set status RUNNING if the target is the caller, else RUNNABLE.
//
// isCaller tells Resume which status to apply in step 5; the scheduler
// interaction (actually resuming execution) is the caller's job.
func (t *Table) Resume(tbl *env.Table, e *env.Env, id Id, isCaller bool) defs.Err {
	if int(id) < 0 || int(id) >= len(t.slots) || t.slots[id] == nil {
		return defs.BadEnv
	}
	snap := t.slots[id]

	// Step 1: pre-allocate a shadow copy. Nothing below this point may
	// fail.
	shadow := make([]page, 0, len(snap.pages))
	for _, p := range snap.pages {
		newFrame, ok := t.physmem.Alloc(false)
		if !ok {
			for _, s := range shadow {
				t.physmem.Refdown(s.frame)
			}
			return defs.NoMem
		}
		copy(t.physmem.Dmap(newFrame), t.physmem.Dmap(p.frame))
		shadow = append(shadow, page{va: p.va, perm: p.perm, frame: newFrame})
	}

	// Step 2: flush current user mappings.
	tbl.FlushAddrSpace(e)

	// Step 3: install shadow mappings.
	for _, p := range shadow {
		if !pgtbl.Insert(t.physmem, e.Pgdir, p.frame, p.va, p.perm) {
			panic("snapshot: resume install failed after pre-allocation succeeded")
		}
		// Insert took its own reference; drop the shadow list's hold
		// so the mapping is the frame's only owner, matching a
		// freshly-installed page (mirrors pgtbl.Insert's aliasing
		// discipline: refup-then-refdown never passes through zero).
		t.physmem.Refdown(p.frame)
	}

	// Step 4: restore registers.
	e.Tf = snap.regs

	// Step 5: status.
	if isCaller {
		e.Status = env.Running
	} else {
		e.Status = env.Runnable
	}
	return defs.OK
}

// Release frees a snapshot's captured frames, independent of whether
// its owning environment is still alive.
func (t *Table) Release(id Id) {
	if int(id) < 0 || int(id) >= len(t.slots) || t.slots[id] == nil {
		return
	}
	t.freeAll(t.slots[id])
	t.slots[id] = nil
}
