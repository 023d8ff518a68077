package syscall

import (
	"testing"

	"exoq/defs"
	"exoq/env"
	"exoq/mem"
	"exoq/nic"
	"exoq/pgtbl"
	"exoq/snapshot"
)

type fakeConsole struct {
	written string
	bytes   []byte
}

func (c *fakeConsole) WriteString(s string) { c.written += s }
func (c *fakeConsole) ReadByte() (byte, bool) {
	if len(c.bytes) == 0 {
		return 0, false
	}
	b := c.bytes[0]
	c.bytes = c.bytes[1:]
	return b, true
}

func setupKernel(t *testing.T, nframes int) (*Kernel, *env.Env) {
	t.Helper()
	physmem := mem.NewPhysmem(nframes, nil)
	envs := env.NewTable(4, physmem, &pgtbl.Root{})
	caller, err := envs.Alloc(0)
	if err != defs.OK {
		t.Fatalf("alloc: %v", err)
	}
	regs := make(nic.MMIORegion, nic.RegRA+2)
	dev, nerr := nic.Attach(regs, [6]byte{0x52, 0x54, 0, 0x12, 0x34, 0x56})
	if nerr != defs.OK {
		t.Fatalf("attach: %v", nerr)
	}
	k := &Kernel{
		Envs:    envs,
		Phys:    physmem,
		Snaps:   snapshot.NewTable(4, physmem),
		Nic:     dev,
		Console: &fakeConsole{},
		Clock:   func() uint64 { return 42 },
	}
	return k, caller
}

// mapPage gives caller one RW user page at va backed by a fresh frame,
// used by tests that need a valid pointer to hand the kernel.
func mapPage(t *testing.T, k *Kernel, caller *env.Env, va uint32) {
	t.Helper()
	frame, ok := k.Phys.Alloc(true)
	if !ok {
		t.Fatal("out of frames")
	}
	if !pgtbl.Insert(k.Phys, caller.Pgdir, frame, va, mem.PTE_P|mem.PTE_U|mem.PTE_W) {
		t.Fatal("insert failed")
	}
}

func TestCputsWritesValidatedRange(t *testing.T) {
	k, caller := setupKernel(t, 16)
	va := uint32(0x00800000)
	mapPage(t, k, caller, va)
	pgtbl.WriteUser(k.Phys, caller.Pgdir, va, []byte("hi"))

	r := k.Dispatch(caller, Args{Num: Cputs, A1: va, A2: 2})
	if r.DestroyCaller || r.Value != 0 {
		t.Fatalf("cputs result = %+v", r)
	}
	if k.Console.(*fakeConsole).written != "hi" {
		t.Fatalf("console got %q", k.Console.(*fakeConsole).written)
	}
}

func TestCputsBadPointerDestroysCaller(t *testing.T) {
	k, caller := setupKernel(t, 16)
	r := k.Dispatch(caller, Args{Num: Cputs, A1: 0xdeadb000, A2: 4})
	if !r.DestroyCaller {
		t.Fatal("expected DestroyCaller for unmapped pointer range")
	}
}

func TestTimeMsec(t *testing.T) {
	k, caller := setupKernel(t, 16)
	r := k.Dispatch(caller, Args{Num: TimeMsec})
	if r.Value != 42 {
		t.Fatalf("time_msec = %d, want 42", r.Value)
	}
}

func TestExoforkReturnsZeroToChild(t *testing.T) {
	k, caller := setupKernel(t, 16)
	r := k.Dispatch(caller, Args{Num: Exofork})
	if r.Value <= 0 {
		t.Fatalf("exofork = %d, want positive child id", r.Value)
	}
	child, err := k.Envs.IdToEnv(env.Id(r.Value), defs.PermAny, caller)
	if err != defs.OK {
		t.Fatalf("resolve child: %v", err)
	}
	if child.Tf.Regs.Eax != 0 {
		t.Fatalf("child Eax = %d, want 0", child.Tf.Regs.Eax)
	}
}

// §8 scenario 4: page_map must reject a write-permission upgrade over a
// read-only source mapping, and install nothing in the destination.
func TestPageMapRejectsWriteUpgrade(t *testing.T) {
	k, caller := setupKernel(t, 16)
	srcVA := uint32(0x00800000)
	frame, ok := k.Phys.Alloc(true)
	if !ok {
		t.Fatal("alloc")
	}
	if !pgtbl.Insert(k.Phys, caller.Pgdir, frame, srcVA, mem.PTE_P|mem.PTE_U) {
		t.Fatal("insert ro source")
	}

	childResult := k.Dispatch(caller, Args{Num: Exofork})
	child, _ := k.Envs.IdToEnv(env.Id(childResult.Value), defs.PermAny, caller)

	dstVA := uint32(0x00801000)
	r := k.Dispatch(caller, Args{
		Num: PageMap,
		A1:  uint32(caller.Id), A2: srcVA,
		A3: uint32(child.Id), A4: dstVA, A5: mem.PTE_P | mem.PTE_U | mem.PTE_W,
	})
	if defs.Err(r.Value) != defs.Inval {
		t.Fatalf("page_map write upgrade = %v, want Inval", r.Value)
	}
	if _, _, found := pgtbl.Lookup(child.Pgdir, dstVA); found {
		t.Fatal("page_map must install nothing on rejected upgrade")
	}
}

func TestPageAllocThenPageUnmap(t *testing.T) {
	k, caller := setupKernel(t, 16)
	va := uint32(0x00900000)
	r := k.Dispatch(caller, Args{Num: PageAlloc, A1: uint32(caller.Id), A2: va, A3: mem.PTE_P | mem.PTE_U | mem.PTE_W})
	if r.Value != 0 {
		t.Fatalf("page_alloc = %v", r.Value)
	}
	if _, _, found := pgtbl.Lookup(caller.Pgdir, va); !found {
		t.Fatal("page not mapped after page_alloc")
	}
	r2 := k.Dispatch(caller, Args{Num: PageUnmap, A1: uint32(caller.Id), A2: va})
	if r2.Value != 0 {
		t.Fatalf("page_unmap = %v", r2.Value)
	}
	if _, _, found := pgtbl.Lookup(caller.Pgdir, va); found {
		t.Fatal("page still mapped after page_unmap")
	}
}

func TestIpcTrySendBeforeRecvFails(t *testing.T) {
	k, caller := setupKernel(t, 16)
	childResult := k.Dispatch(caller, Args{Num: Exofork})
	child, _ := k.Envs.IdToEnv(env.Id(childResult.Value), defs.PermAny, caller)

	r := k.Dispatch(caller, Args{Num: IpcTrySend, A1: uint32(child.Id), A2: 7})
	if defs.Err(r.Value) != defs.IPCNotRecv {
		t.Fatalf("ipc_try_send before recv = %v, want IPCNotRecv", r.Value)
	}
}

func TestIpcRecvThenTrySendDeliversValue(t *testing.T) {
	k, caller := setupKernel(t, 16)
	childResult := k.Dispatch(caller, Args{Num: Exofork})
	child, _ := k.Envs.IdToEnv(env.Id(childResult.Value), defs.PermAny, caller)

	k.Dispatch(child, Args{Num: IpcRecv, A1: 0})
	if child.Status != env.NotRunnable {
		t.Fatalf("receiver status = %v, want NotRunnable", child.Status)
	}

	r := k.Dispatch(caller, Args{Num: IpcTrySend, A1: uint32(child.Id), A2: 99})
	if r.Value != 0 {
		t.Fatalf("ipc_try_send = %v", r.Value)
	}
	if child.IpcVal != 99 || child.IpcFrom != caller.Id {
		t.Fatalf("child did not receive value/from correctly: %+v", child)
	}
	if child.Status != env.Runnable {
		t.Fatalf("receiver status after send = %v, want Runnable", child.Status)
	}
}

func TestNetTransmitAndRecvRoundTrip(t *testing.T) {
	k, caller := setupKernel(t, 16)
	va := uint32(0x00800000)
	mapPage(t, k, caller, va)
	pgtbl.WriteUser(k.Phys, caller.Pgdir, va, []byte("packet"))

	r := k.Dispatch(caller, Args{Num: NetTransmit, A1: va, A2: 6})
	if r.Value != 0 {
		t.Fatalf("net_transmit = %v", r.Value)
	}

	k.Nic.Deliver([]byte("inbound"))
	rva := uint32(0x00801000)
	mapPage(t, k, caller, rva)
	r2 := k.Dispatch(caller, Args{Num: NetRecv, A1: rva, A2: 32})
	if r2.Value <= 0 {
		t.Fatalf("net_recv = %v", r2.Value)
	}
	got := pgtbl.ReadUser(k.Phys, caller.Pgdir, rva, int(r2.Value))
	if string(got) != "inbound" {
		t.Fatalf("net_recv got %q", got)
	}
}

func TestEnvSetStatusRejectsInvalidValue(t *testing.T) {
	k, caller := setupKernel(t, 16)
	r := k.Dispatch(caller, Args{Num: EnvSetStatus, A1: uint32(caller.Id), A2: uint32(env.Running)})
	if defs.Err(r.Value) != defs.Inval {
		t.Fatalf("env_set_status(Running) = %v, want Inval", r.Value)
	}
}
