// Package diag implements kernel diagnostics: fault-site disassembly,
// heap/environment-table profile snapshots, and formatted operator
// reports. None of this is on the critical path of any syscall or trap
// (§1 Non-goals: no profiling subsystem is part of the exokernel
// proper) — it is the tooling an operator reaches for after the fact,
// grounded on the same third-party libraries the teacher's own module
// closure already depends on for exactly these jobs: x86asm for
// instruction-level disassembly, pprof/profile for structured profile
// output, and x/text/message for locale-aware formatted reports.
package diag

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"exoq/trap"
)

// DisasFault decodes the instruction at a trap frame's faulting EIP
// out of the supplied code bytes (the page containing f.Eip, handed in
// by the caller since this package has no memory access of its own),
// returning a human-readable mnemonic line for inclusion in a crash
// report.
func DisasFault(f *trap.Frame, code []byte, codeBase uint32) string {
	off := int(f.Eip - codeBase)
	if off < 0 || off >= len(code) {
		return fmt.Sprintf("eip %#08x: out of supplied code range", f.Eip)
	}
	inst, err := x86asm.Decode(code[off:], 32)
	if err != nil {
		return fmt.Sprintf("eip %#08x: undecodable: %v", f.Eip, err)
	}
	return fmt.Sprintf("eip %#08x: %s", f.Eip, x86asm.GNUSyntax(inst, uint64(f.Eip), nil))
}
