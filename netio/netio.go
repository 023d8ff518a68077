// Package netio implements the two always-present network server
// environments (§4.9): an input server that drains the NIC's receive
// ring and IPCs each packet to the network stack environment, and an
// output server that blocks for IPC'd packets and hands them to the
// NIC's transmit ring. Grounded on
// original_source/lab6/jos/net/input.c and output.c, translated from
// their infinite `while(1)` server loops into single-step Tick methods
// a scheduler calls repeatedly — there is no instruction-level
// execution model in this Go module for a literal blocking loop to run
// inside.
package netio

import (
	"exoq/defs"
	"exoq/env"
	"exoq/mem"
	"exoq/nic"
	"exoq/pgtbl"
)

// packetIPCVal is the fixed "value" field carried in the IPC word for
// a delivered packet; the server-selection protocol in original_source
// distinguishes NSREQ_INPUT/NSREQ_OUTPUT request codes, collapsed here
// to this one type of transfer since the module implements only the
// input/output pair (§4.9), not the rest of the network-stack's
// request vocabulary (Non-goals: no TCP/IP stack).
const packetIPCVal = 1

// InputServer drains Nic's receive ring and forwards each packet to
// nsID by IPC (§4.9 input loop). It owns one scratch page (PktVA) in
// its own address space to stage a packet's bytes before sharing it.
type InputServer struct {
	Envs  *env.Table
	Phys  *mem.Physmem
	Nic   *nic.Device
	Self  *env.Env
	NSID  env.Id
	PktVA uint32
}

// Tick performs one poll of the receive ring (§4.9):
//   - RXEmpty is not an error the caller need report; it just means
//     there was nothing to deliver this tick.
//   - a received packet is staged into PktVA and IPC'd to the
//     network-stack environment only if that environment is blocked
//     in ipc_recv; otherwise the packet, already taken off the ring,
//     is dropped and IPCNotRecv is returned.
func (s *InputServer) Tick() defs.Err {
	buf := make([]byte, nic.MaxPacket)
	n, err := s.Nic.Receive(buf)
	if err == defs.RXEmpty {
		return defs.OK
	}
	if err != defs.OK {
		return err
	}

	ns, rerr := s.Envs.IdToEnv(s.NSID, defs.PermAny, s.Self)
	if rerr != defs.OK {
		return rerr
	}
	if !ns.IpcRecving {
		// Mirrors input.c's busy-wait ("while (!...) sys_yield()"): in
		// this tick-based model, drop the packet rather than block,
		// since there is no blocking execution context to spin in.
		return defs.IPCNotRecv
	}

	pgtbl.WriteUser(s.Phys, s.Self.Pgdir, s.PktVA, buf[:n])
	frame, _, ok := pgtbl.Lookup(s.Self.Pgdir, s.PktVA)
	if !ok {
		panic("netio: input scratch page not mapped")
	}
	if !pgtbl.Insert(s.Phys, ns.Pgdir, frame, ns.IpcDstVa, mem.PTE_P|mem.PTE_U) {
		return defs.NoMem
	}
	ns.IpcRecving = false
	ns.IpcVal = packetIPCVal
	ns.IpcFrom = s.Self.Id
	ns.IpcPerm = mem.PTE_P | mem.PTE_U
	ns.Status = env.Runnable
	return defs.OK
}

// OutputServer blocks for packets IPC'd to it and hands each to the
// NIC's transmit ring (§4.9 output loop). Grounded on
// original_source/lab6/jos/net/output.c, whose loop body is just "if
// this was an output request from the network stack, transmit it" —
// collapsed here into a single Tick since this module's IPC model has
// no request-code field to match against (Non-goals: no TCP/IP stack).
type OutputServer struct {
	Envs *env.Table
	Phys *mem.Physmem
	Nic  *nic.Device
	Self *env.Env
	NSID env.Id
}

// Tick implements one iteration of the output loop: if a packet has
// arrived via IPC from the network-stack environment since the last
// tick, transmit it. The caller is responsible for having already
// driven ipc_recv (self.IpcRecving) for Self; Tick only consumes a
// delivery that has already landed in Self.Ipc* fields, mirroring
// output.c checking from_envid == ns_envid after ipc_recv returns.
func (s *OutputServer) Tick() defs.Err {
	if s.Self.IpcRecving || s.Self.IpcFrom != s.NSID {
		return defs.OK
	}
	va := s.Self.IpcDstVa
	frame, _, ok := pgtbl.Lookup(s.Self.Pgdir, va)
	if !ok {
		return defs.Inval
	}
	n := int(s.Self.IpcVal)
	buf := s.Phys.Dmap(frame)[:n]
	return s.Nic.Transmit(buf)
}
