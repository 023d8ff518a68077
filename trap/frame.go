// Package trap models the trap frame and vector numbers of §4.4. The
// real IDT/TSS/assembly stub plumbing has no host-testable surface (it
// is a fixed, hardware-only sequence); this package instead models the
// shape of a trap frame, the env_set_trapframe sanitization, and the
// page-fault-upcall record. The kernel-entry checklist and the
// dispatch decision logic live in package dispatch. Grounded
// on original_source/lab4/jos/kern/trap.c and the teacher's per-CPU
// kernel-stack discipline (apic/kernel packages).
package trap

// Regs holds the general-purpose register file saved on every trap
// (§3 Trap Frame).
type Regs struct {
	Edi, Esi, Ebp, Esp0, Ebx, Edx, Ecx, Eax uint32
}

// Frame is the full per-CPU trap frame materialized on every trap,
// even when some fields are redundant for a given vector (§3, §4.4
// kernel-entry rule: "The per-CPU kernel entry always materializes a
// full trap frame").
type Frame struct {
	Regs   Regs
	GS, FS, ES, DS uint16

	TrapNo uint32
	ErrCode uint32
	// FaultAddr is the faulting linear address for page-fault vectors,
	// the Go-model stand-in for reading CR2 on real hardware.
	FaultAddr uint32

	Eip    uint32
	CS     uint16
	Eflags uint32

	// Esp and SS are only meaningful when the trap crossed privilege
	// levels (user -> kernel), per §3.
	Esp uint32
	SS  uint16

	crossedPrivilege bool
}

// CrossedPrivilege reports whether this frame was saved while
// transitioning from user to kernel mode, in which case Esp/SS hold
// the interrupted user stack.
func (f *Frame) CrossedPrivilege() bool { return f.crossedPrivilege }

// MarkUserTrap records that this frame was taken from user mode,
// which both fixes CrossedPrivilege and is required before the
// kernel-entry checklist will copy it into the environment's saved
// frame (kernel-entry rule 5, §4.4).
func (f *Frame) MarkUserTrap() { f.crossedPrivilege = true }

// Vector numbers for the traps this kernel must distinguish (§4.4).
const (
	VecPageFault = 14
	VecBreakpoint = 3
	VecDebug      = 1
	VecSyscall    = 0x30
)

// EFLAGS bits relevant to sanitizing a caller-supplied trap frame
// (§9 design notes: env_set_trapframe must apply the safety mask
// after copying the caller's frame, not before).
const (
	EFLAGS_IF = 1 << 9 // interrupts enabled
	EFLAGS_RESERVED1 = 1 << 1
)

// UserCodeSegment is the flat selector user-mode code runs under; any
// trap frame installed via env_set_trapframe must use this CS
// regardless of what the caller supplied (§9).
const UserCodeSegment uint16 = 0x1b // RPL 3

// SanitizeForUserEntry forces the code segment and the interrupt-enable
// /reserved flags bits callers cannot be allowed to clear, applying the
// mask AFTER any caller-supplied frame has already been copied in — the
// fix for the source bug named in spec.md §9 where the original
// sanitized first and then let the raw copy clobber the sanitization.
func SanitizeForUserEntry(f *Frame) {
	f.CS = UserCodeSegment
	f.Eflags |= EFLAGS_IF | EFLAGS_RESERVED1
}

// UTrapframe is the packed record written to a user's exception stack
// on a page fault when an upcall is registered (§6 page-fault upcall
// ABI): {general_regs, fault_va, error_code, eip, eflags, esp}.
type UTrapframe struct {
	Regs    Regs
	FaultVA uint32
	ErrCode uint32
	Eip     uint32
	Eflags  uint32
	Esp     uint32
}

// UTrapframeSize is the packed wire size of UTrapframe: 8 32-bit
// registers plus 5 32-bit fields (§6).
const UTrapframeSize = 4*8 + 4*5

// Marshal encodes u in the fixed field order the upcall ABI expects.
func (u UTrapframe) Marshal() []byte {
	buf := make([]byte, UTrapframeSize)
	vals := []uint32{
		u.Regs.Edi, u.Regs.Esi, u.Regs.Ebp, u.Regs.Esp0,
		u.Regs.Ebx, u.Regs.Edx, u.Regs.Ecx, u.Regs.Eax,
		u.FaultVA, u.ErrCode, u.Eip, u.Eflags, u.Esp,
	}
	for i, v := range vals {
		o := i * 4
		buf[o] = byte(v)
		buf[o+1] = byte(v >> 8)
		buf[o+2] = byte(v >> 16)
		buf[o+3] = byte(v >> 24)
	}
	return buf
}

// UnmarshalUTrapframe decodes a record previously written by Marshal.
func UnmarshalUTrapframe(buf []byte) UTrapframe {
	rd := func(i int) uint32 {
		o := i * 4
		return uint32(buf[o]) | uint32(buf[o+1])<<8 | uint32(buf[o+2])<<16 | uint32(buf[o+3])<<24
	}
	return UTrapframe{
		Regs: Regs{
			Edi: rd(0), Esi: rd(1), Ebp: rd(2), Esp0: rd(3),
			Ebx: rd(4), Edx: rd(5), Ecx: rd(6), Eax: rd(7),
		},
		FaultVA: rd(8),
		ErrCode: rd(9),
		Eip:     rd(10),
		Eflags:  rd(11),
		Esp:     rd(12),
	}
}

// UScratchSize is the 4-byte scratch slot the upcall's assembly
// epilogue writes the resume IP into, placed below the saved record on
// a nested fault (§4.4, §6, §8 scenario 6).
const UScratchSize = 4
