// Package env implements the environment table and lifecycle (§4.3)
// and the round-robin scheduler (§4.5). The flat slot array behind one
// mutex follows the teacher's mem.Physmem_t shape; the generation-
// encoded ids and the env_alloc/env_free/env_destroy lifecycle follow
// JOS env.c semantics as spec.md distills them into §4.3.
package env

import (
	"sync"

	"exoq/defs"
	"exoq/mem"
	"exoq/pgtbl"
	"exoq/trap"
)

// Status is an environment's lifecycle state (§3).
type Status int

const (
	Free Status = iota
	Dying
	Runnable
	Running
	NotRunnable
)

// Type tags the kind of environment; the core only distinguishes user
// environments from the small set of always-present system servers
// (input/output, §4.9).
type Type int

const (
	TypeUser Type = iota
	TypeNetInput
	TypeNetOutput
)

// Id is a generation-and-index encoded 32-bit identifier (§3): reusing
// a slot always produces a new id, since the generation is bumped on
// every Alloc.
type Id uint32

const indexBits = 16

func mkid(gen uint32, idx int) Id { return Id(gen<<indexBits | uint32(idx)) }

// Index extracts the slot index encoded in an id.
func (id Id) Index() int { return int(uint32(id) & (1<<indexBits - 1)) }

func (id Id) generation() uint32 { return uint32(id) >> indexBits }

// Env is one environment-table slot's state (§3).
type Env struct {
	Status   Status
	Id       Id
	ParentId Id
	Type     Type
	Runs     uint32

	Pgdir *pgtbl.Root

	Tf trap.Frame

	PgfaultUpcall uint32 // 0 means "no upcall registered"

	// IPC fields (§3, §4.4 ipc_recv/ipc_try_send).
	IpcRecving bool
	IpcDstVa   uint32
	IpcVal     uint32
	IpcFrom    Id
	IpcPerm    uint32

	generation uint32
}

// Table is the fixed-capacity environment table plus the scheduler's
// round-robin cursor (§4.3, §4.5). Constructed explicitly by boot
// rather than kept as a package-level global (§9 design notes).
type Table struct {
	mu      sync.Mutex
	slots   []Env
	lastRun int
	physmem *mem.Physmem
	kernel  *pgtbl.Root
}

// NewTable builds an environment table with n slots. kernelRoot
// carries the shared kernel mapping every new address space aliases
// in via pgtbl.AliasKernelRange (§3 layout invariant).
func NewTable(n int, physmem *mem.Physmem, kernelRoot *pgtbl.Root) *Table {
	t := &Table{
		slots:   make([]Env, n),
		lastRun: -1,
		physmem: physmem,
		kernel:  kernelRoot,
	}
	for i := range t.slots {
		t.slots[i].Status = Free
	}
	return t
}

// Len reports the table's fixed capacity.
func (t *Table) Len() int { return len(t.slots) }

// Alloc allocates the lowest-indexed FREE slot for a new environment
// whose parent is parent (§4.3). The new address space's kernel
// region is aliased from the shared kernel root; status starts
// NotRunnable.
func (t *Table) Alloc(parent Id) (*Env, defs.Err) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := -1
	for i := range t.slots {
		if t.slots[i].Status == Free {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, defs.NoFreeEnv
	}

	e := &t.slots[idx]
	e.generation++
	*e = Env{
		Status:     NotRunnable,
		ParentId:   parent,
		Pgdir:      &pgtbl.Root{},
		generation: e.generation,
	}
	e.Id = mkid(e.generation, idx)
	if t.kernel != nil {
		pgtbl.AliasKernelRange(e.Pgdir, t.kernel)
	}
	return e, defs.OK
}

// Free returns an environment's slot to FREE, dropping its address
// space. The caller is responsible for having already flushed the
// user mappings (FlushAddrSpace) so frame refcounts stay correct.
func (t *Table) Free(e *Env) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := e.Id.Index()
	t.slots[idx].Status = Free
	t.slots[idx].Pgdir = nil
}

// Destroy marks an environment DYING; actual slot reclamation happens
// at the next trap boundary via Free (§3 lifecycle), so that an
// environment cannot be destroyed while its trap frame is mid-dispatch.
func (t *Table) Destroy(e *Env) {
	t.mu.Lock()
	e.Status = Dying
	t.mu.Unlock()
}

// IdToEnv resolves id to its environment, applying the named
// permission check (§4.3, §9: a tagged enum replaces the source's
// overloaded boolean). PermAny performs no authorization check but
// still rejects a stale generation.
func (t *Table) IdToEnv(id Id, check defs.PermCheck, caller *Env) (*Env, defs.Err) {
	idx := id.Index()
	if idx < 0 || idx >= len(t.slots) {
		return nil, defs.BadEnv
	}
	e := &t.slots[idx]
	if e.Status == Free || e.generation != id.generation() {
		return nil, defs.BadEnv
	}
	switch check {
	case defs.PermAny:
		return e, defs.OK
	case defs.PermSelf:
		if e != caller {
			return nil, defs.BadEnv
		}
	case defs.PermParent:
		if e != caller && e.ParentId != caller.Id {
			return nil, defs.BadEnv
		}
	}
	return e, defs.OK
}

// Counts tallies slots by lifecycle status, for diagnostics (diag
// package) rather than any kernel decision.
func (t *Table) Counts() map[Status]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := make(map[Status]int, 5)
	for i := range t.slots {
		c[t.slots[i].Status]++
	}
	return c
}

// FlushAddrSpace unmaps every user-space page below the kernel region
// and drops the environment's hold on any now-empty second-level
// tables (§4.3). The kernel-region alias (>= pgtbl.KernelSlotStart) is
// left untouched since it is shared, not owned.
func (t *Table) FlushAddrSpace(e *Env) {
	pgtbl.Flush(t.physmem, e.Pgdir, pgtbl.KernelSlotStart)
}
