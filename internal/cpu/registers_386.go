package cpu

// 32-bit x86 register indices, kept for parity with the original source's
// i386_thread_state_t decoder. No frameless-immediate or compact-unwind
// support ships for this architecture in practice; it uses the RBP-chain
// decoder shape shared with x86_64 (see spec.md §4.4).
const (
	x86RegEAX = iota
	x86RegEBX
	x86RegECX
	x86RegEDX
	x86RegEDI
	x86RegESI
	x86RegEBP
	x86RegESP
	x86RegSS
	x86RegEFLAGS
	x86RegEIP
	x86RegCS
	x86RegDS
	x86RegES
	x86RegFS
	x86RegGS
	x86RegCount
)

var x86Names = [x86RegCount]string{
	"eax", "ebx", "ecx", "edx", "edi", "esi", "ebp", "esp",
	"ss", "eflags", "eip", "cs", "ds", "es", "fs", "gs",
}

var x86ExceptionNames = []string{"trapno", "err", "faultvaddr"}

// X86 implements the register accessors for 32-bit x86.
var X86 = Accessors{
	Arch: ArchX86,
	PC:   func(g *RegisterFile) uint64 { return g.General[x86RegEIP] },
	SP:   func(g *RegisterFile) uint64 { return g.General[x86RegESP] },
	FP:   func(g *RegisterFile) uint64 { return g.General[x86RegEBP] },
}

// NewX86RegisterFile allocates a zeroed register bank sized for 32-bit x86.
func NewX86RegisterFile() *RegisterFile {
	return &RegisterFile{
		Arch:           ArchX86,
		General:        make([]uint64, x86RegCount),
		Names:          x86Names[:],
		Exception:      make([]uint64, len(x86ExceptionNames)),
		ExceptionNames: x86ExceptionNames,
	}
}
