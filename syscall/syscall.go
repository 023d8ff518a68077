// Package syscall implements the system-call table (§4.4): argument
// validation and dispatch to the virtual memory, environment, IPC,
// snapshot, and NIC subsystems. This is the kernel's sole intentional
// entry point from user mode (§1). Grounded on
// original_source/lab4/jos/kern/syscall.c and
// original_source/lab6/jos/kern/syscall.c (which adds net_transmit,
// net_recv, time_msec over lab4's set) and the teacher's Err_t-return
// convention.
package syscall

import (
	"exoq/defs"
	"exoq/env"
	"exoq/mem"
	"exoq/nic"
	"exoq/pgtbl"
	"exoq/snapshot"
	"exoq/trap"
)

// Call numbers, one per row of §4.4's table.
const (
	Cputs = iota + 1
	Cgetc
	Getenvid
	EnvDestroy
	Yield
	PageAlloc
	PageMap
	PageUnmap
	Exofork
	EnvSetStatus
	EnvSetTrapframe
	EnvSetPgfaultUpcall
	EnvSnapshot
	EnvResume
	IpcRecv
	IpcTrySend
	TimeMsec
	NetTransmit
	NetRecv
)

// Console is the external console collaborator (§1 out of scope):
// cputs/cgetc are thin syscall wrappers around it.
type Console interface {
	WriteString(s string)
	ReadByte() (b byte, ok bool)
}

// Clock is the external monotonic millisecond timer (§1 out of
// scope) that backs time_msec.
type Clock func() uint64

// Kernel bundles the subsystem handles a syscall dispatch needs,
// constructed explicitly by boot rather than kept in package globals
// (§9 design notes).
type Kernel struct {
	Envs    *env.Table
	Phys    *mem.Physmem
	Snaps   *snapshot.Table
	Nic     *nic.Device
	Console Console
	Clock   Clock
}

// Args is the decoded syscall ABI (§6): the call number plus up to
// five arguments, all carried in general-purpose registers on a real
// trap frame.
type Args struct {
	Num            uint32
	A1, A2, A3, A4, A5 uint32
}

// ArgsFromFrame decodes Args from a trap frame using the register
// convention fixed by §6 (call number in Eax, arguments in the next
// five GPRs).
func ArgsFromFrame(f *trap.Frame) Args {
	return Args{
		Num: f.Regs.Eax,
		A1:  f.Regs.Edx,
		A2:  f.Regs.Ecx,
		A3:  f.Regs.Ebx,
		A4:  f.Regs.Edi,
		A5:  f.Regs.Esi,
	}
}

// Result is a syscall's outcome: a signed return value to place in the
// caller's Eax, plus whether the call's argument validation failed in
// a way that destroys the caller outright (§7a) rather than merely
// returning a negative code.
type Result struct {
	Value        int32
	DestroyCaller bool
}

func ok(v int32) Result   { return Result{Value: v} }
func errv(e defs.Err) Result { return Result{Value: int32(e)} }
func fatal() Result        { return Result{DestroyCaller: true} }

// Dispatch decodes and invokes one system call on behalf of caller
// (§4.4). It never blocks except for IpcRecv, which marks the caller
// NOT_RUNNABLE and expects the scheduler to be invoked by Dispatch's
// caller afterward.
func (k *Kernel) Dispatch(caller *env.Env, a Args) Result {
	switch a.Num {
	case Cputs:
		return k.sysCputs(caller, a.A1, a.A2)
	case Cgetc:
		return k.sysCgetc()
	case Getenvid:
		return ok(int32(caller.Id))
	case EnvDestroy:
		return k.sysEnvDestroy(caller, env.Id(a.A1))
	case Yield:
		k.Envs.SetStatus(caller, env.Runnable)
		return ok(0)
	case PageAlloc:
		return k.sysPageAlloc(caller, env.Id(a.A1), a.A2, a.A3)
	case PageMap:
		return k.sysPageMap(caller, env.Id(a.A1), a.A2, env.Id(a.A3), a.A4, a.A5)
	case PageUnmap:
		return k.sysPageUnmap(caller, env.Id(a.A1), a.A2)
	case Exofork:
		return k.sysExofork(caller)
	case EnvSetStatus:
		return k.sysEnvSetStatus(caller, env.Id(a.A1), env.Status(a.A2))
	case EnvSetTrapframe:
		return k.sysEnvSetTrapframe(caller, env.Id(a.A1), a.A2)
	case EnvSetPgfaultUpcall:
		return k.sysEnvSetPgfaultUpcall(caller, env.Id(a.A1), a.A2)
	case EnvSnapshot:
		return k.sysEnvSnapshot(caller, env.Id(a.A1))
	case EnvResume:
		return k.sysEnvResume(caller, env.Id(a.A1), snapshot.Id(a.A2))
	case IpcRecv:
		return k.sysIpcRecv(caller, a.A1)
	case IpcTrySend:
		return k.sysIpcTrySend(caller, env.Id(a.A1), a.A2, a.A3, a.A4)
	case TimeMsec:
		return ok(int32(k.Clock()))
	case NetTransmit:
		return k.sysNetTransmit(caller, a.A1, a.A2)
	case NetRecv:
		return k.sysNetRecv(caller, a.A1, a.A2)
	default:
		return errv(defs.Inval)
	}
}

func (k *Kernel) sysCputs(caller *env.Env, va, n uint32) Result {
	if !pgtbl.CheckUserRange(caller.Pgdir, va, int(n)) {
		return fatal()
	}
	buf := pgtbl.ReadUser(k.Phys, caller.Pgdir, va, int(n))
	k.Console.WriteString(string(buf))
	return ok(0)
}

func (k *Kernel) sysCgetc() Result {
	b, ok2 := k.Console.ReadByte()
	if !ok2 {
		return ok(0)
	}
	return ok(int32(b))
}

func (k *Kernel) sysEnvDestroy(caller *env.Env, id env.Id) Result {
	target, err := k.Envs.IdToEnv(id, defs.PermParent, caller)
	if err != defs.OK {
		return errv(err)
	}
	k.Envs.Destroy(target)
	return ok(0)
}

func (k *Kernel) sysPageAlloc(caller *env.Env, id env.Id, va, perm uint32) Result {
	target, err := k.Envs.IdToEnv(id, defs.PermParent, caller)
	if err != defs.OK {
		return errv(err)
	}
	p := pgtbl.SanitizePerm(perm)
	if !pgtbl.CheckUserPresent(p | mem.PTE_P) {
		return errv(defs.Inval)
	}
	frame, allocated := k.Phys.Alloc(true)
	if !allocated {
		return errv(defs.NoMem)
	}
	if !pgtbl.Insert(k.Phys, target.Pgdir, frame, va, p) {
		k.Phys.Refdown(frame)
		return errv(defs.NoMem)
	}
	// Insert already took its own reference; drop the allocator's
	// initial hold so the mapping is the frame's sole owner.
	k.Phys.Refdown(frame)
	return ok(0)
}

func (k *Kernel) sysPageMap(caller *env.Env, srcID env.Id, srcVA uint32, dstID env.Id, dstVA, perm uint32) Result {
	src, err := k.Envs.IdToEnv(srcID, defs.PermParent, caller)
	if err != defs.OK {
		return errv(err)
	}
	dst, err := k.Envs.IdToEnv(dstID, defs.PermParent, caller)
	if err != defs.OK {
		return errv(err)
	}
	frame, srcPTE, found := pgtbl.Lookup(src.Pgdir, srcVA)
	if !found {
		return errv(defs.Inval)
	}
	p := pgtbl.SanitizePerm(perm)
	if !pgtbl.CheckUserPresent(p | mem.PTE_P) {
		return errv(defs.Inval)
	}
	// Reject a write-permission upgrade over a read-only source (§4.4
	// page_map, §8 scenario 4).
	if p&mem.PTE_W != 0 && srcPTE.Flags&mem.PTE_W == 0 {
		return errv(defs.Inval)
	}
	if !pgtbl.Insert(k.Phys, dst.Pgdir, frame, dstVA, p) {
		return errv(defs.NoMem)
	}
	return ok(0)
}

func (k *Kernel) sysPageUnmap(caller *env.Env, id env.Id, va uint32) Result {
	target, err := k.Envs.IdToEnv(id, defs.PermParent, caller)
	if err != defs.OK {
		return errv(err)
	}
	// Silently ignores unmapped va (§4.4).
	pgtbl.Remove(k.Phys, target.Pgdir, va)
	return ok(0)
}

func (k *Kernel) sysExofork(caller *env.Env) Result {
	child, err := k.Envs.Alloc(caller.Id)
	if err != defs.OK {
		return errv(err)
	}
	child.Tf = caller.Tf
	// The child's return value is 0 (§4.4); Eax is the register the
	// ABI returns values in (§6).
	child.Tf.Regs.Eax = 0
	return ok(int32(child.Id))
}

func (k *Kernel) sysEnvSetStatus(caller *env.Env, id env.Id, status env.Status) Result {
	target, err := k.Envs.IdToEnv(id, defs.PermParent, caller)
	if err != defs.OK {
		return errv(err)
	}
	if status != env.Runnable && status != env.NotRunnable {
		return errv(defs.Inval)
	}
	k.Envs.SetStatus(target, status)
	return ok(0)
}

// sysEnvSetTrapframe overwrites the target's saved trap frame with one
// read out of the caller's address space, then sanitizes it. §9
// design notes flag the source bug where sanitization happened before
// the copy, so the caller-supplied CS/EFLAGS silently won the race;
// here SanitizeForUserEntry runs strictly after the copy.
func (k *Kernel) sysEnvSetTrapframe(caller *env.Env, id env.Id, tfva uint32) Result {
	target, err := k.Envs.IdToEnv(id, defs.PermParent, caller)
	if err != defs.OK {
		return errv(err)
	}
	if !pgtbl.CheckUserRange(caller.Pgdir, tfva, trapFrameWireSize) {
		return fatal()
	}
	buf := pgtbl.ReadUser(k.Phys, caller.Pgdir, tfva, trapFrameWireSize)
	tf := unmarshalFrame(buf)
	target.Tf = tf
	trap.SanitizeForUserEntry(&target.Tf)
	return ok(0)
}

func (k *Kernel) sysEnvSetPgfaultUpcall(caller *env.Env, id env.Id, fn uint32) Result {
	target, err := k.Envs.IdToEnv(id, defs.PermParent, caller)
	if err != defs.OK {
		return errv(err)
	}
	target.PgfaultUpcall = fn
	return ok(0)
}

func (k *Kernel) sysEnvSnapshot(caller *env.Env, id env.Id) Result {
	target, err := k.Envs.IdToEnv(id, defs.PermSelf, caller)
	if err != defs.OK {
		return errv(err)
	}
	sid, serr := k.Snaps.Take(target)
	if serr != defs.OK {
		return errv(serr)
	}
	return ok(int32(sid))
}

func (k *Kernel) sysEnvResume(caller *env.Env, id env.Id, sid snapshot.Id) Result {
	target, err := k.Envs.IdToEnv(id, defs.PermSelf, caller)
	if err != defs.OK {
		return errv(err)
	}
	rerr := k.Snaps.Resume(k.Envs, target, sid, target == caller)
	if rerr != defs.OK {
		return errv(rerr)
	}
	return ok(0)
}

func (k *Kernel) sysIpcRecv(caller *env.Env, dstva uint32) Result {
	caller.IpcRecving = true
	caller.IpcDstVa = dstva
	k.Envs.SetStatus(caller, env.NotRunnable)
	return ok(0)
}

// sysIpcTrySend implements non-blocking IPC send (§4.4). Permission
// check is PermAny (no authorization needed to send), but a stale
// generation is still rejected by IdToEnv.
func (k *Kernel) sysIpcTrySend(caller *env.Env, dstID env.Id, val, srcva, perm uint32) Result {
	dst, err := k.Envs.IdToEnv(dstID, defs.PermAny, caller)
	if err != defs.OK {
		return errv(err)
	}
	if !dst.IpcRecving {
		return errv(defs.IPCNotRecv)
	}
	if srcva != 0 && dst.IpcDstVa != 0 {
		frame, srcPTE, found := pgtbl.Lookup(caller.Pgdir, srcva)
		if !found {
			return errv(defs.Inval)
		}
		p := pgtbl.SanitizePerm(perm)
		if p&mem.PTE_W != 0 && srcPTE.Flags&mem.PTE_W == 0 {
			return errv(defs.Inval)
		}
		if !pgtbl.Insert(k.Phys, dst.Pgdir, frame, dst.IpcDstVa, p) {
			return errv(defs.NoMem)
		}
		dst.IpcPerm = p
	}
	dst.IpcRecving = false
	dst.IpcVal = val
	dst.IpcFrom = caller.Id
	k.Envs.SetStatus(dst, env.Runnable)
	return ok(0)
}

func (k *Kernel) sysNetTransmit(caller *env.Env, va, n uint32) Result {
	if !pgtbl.CheckUserRange(caller.Pgdir, va, int(n)) {
		return fatal()
	}
	buf := pgtbl.ReadUser(k.Phys, caller.Pgdir, va, int(n))
	if nerr := k.Nic.Transmit(buf); nerr != defs.OK {
		return errv(nerr)
	}
	return ok(0)
}

func (k *Kernel) sysNetRecv(caller *env.Env, va, n uint32) Result {
	if !pgtbl.CheckUserRange(caller.Pgdir, va, int(n)) {
		return fatal()
	}
	tmp := make([]byte, n)
	got, nerr := k.Nic.Receive(tmp)
	if nerr != defs.OK {
		return errv(nerr)
	}
	pgtbl.WriteUser(k.Phys, caller.Pgdir, va, tmp[:got])
	return ok(int32(got))
}
