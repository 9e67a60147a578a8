package cpu

// Register indices follow x86_thread_state64_t layout order.
const (
	amd64RegRAX = iota
	amd64RegRBX
	amd64RegRCX
	amd64RegRDX
	amd64RegRDI
	amd64RegRSI
	amd64RegRBP
	amd64RegRSP
	amd64RegR8
	amd64RegR9
	amd64RegR10
	amd64RegR11
	amd64RegR12
	amd64RegR13
	amd64RegR14
	amd64RegR15
	amd64RegRIP
	amd64RegRFLAGS
	amd64RegCS
	amd64RegFS
	amd64RegGS
	amd64RegCount
)

var amd64Names = [amd64RegCount]string{
	"rax", "rbx", "rcx", "rdx", "rdi", "rsi", "rbp", "rsp",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
	"rip", "rflags", "cs", "fs", "gs",
}

var amd64ExceptionNames = []string{"trapno", "err", "faultvaddr"}

// X86_64 implements the register accessors described in spec.md §4.3 for the
// x86_64 architecture. There is no hardware link register: RBP-chain or
// compact-unwind frame information takes its place, so Accessors.HasLR is
// false and LR is nil.
var X86_64 = Accessors{
	Arch: ArchX86_64,
	PC:   func(g *RegisterFile) uint64 { return g.General[amd64RegRIP] },
	SP:   func(g *RegisterFile) uint64 { return g.General[amd64RegRSP] },
	FP:   func(g *RegisterFile) uint64 { return g.General[amd64RegRBP] },
}

// NewAMD64RegisterFile allocates a zeroed register bank sized for x86_64.
func NewAMD64RegisterFile() *RegisterFile {
	return &RegisterFile{
		Arch:           ArchX86_64,
		General:        make([]uint64, amd64RegCount),
		Names:          amd64Names[:],
		Exception:      make([]uint64, len(amd64ExceptionNames)),
		ExceptionNames: amd64ExceptionNames,
	}
}
