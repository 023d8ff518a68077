package syscall

import "exoq/trap"

// trapFrameWireSize is the packed size of the subset of trap.Frame a
// user may install via env_set_trapframe (§4.4): the general-purpose
// registers plus Eip/Eflags/Esp. Segment selectors and TrapNo/ErrCode
// are not user-settable (SanitizeForUserEntry fixes CS unconditionally;
// the others are kernel-filled diagnostic fields, not part of the
// resumable state).
const trapFrameWireSize = 4*8 + 4*3

func unmarshalFrame(buf []byte) trap.Frame {
	rd := func(i int) uint32 {
		o := i * 4
		return uint32(buf[o]) | uint32(buf[o+1])<<8 | uint32(buf[o+2])<<16 | uint32(buf[o+3])<<24
	}
	return trap.Frame{
		Regs: trap.Regs{
			Edi: rd(0), Esi: rd(1), Ebp: rd(2), Esp0: rd(3),
			Ebx: rd(4), Edx: rd(5), Ecx: rd(6), Eax: rd(7),
		},
		Eip:    rd(8),
		Eflags: rd(9),
		Esp:    rd(10),
	}
}
