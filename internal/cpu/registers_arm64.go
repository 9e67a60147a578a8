package cpu

// Register indices follow the order the kernel's ARM_THREAD_STATE64 flavor
// reports them in: X0-X28, FP(X29), LR(X30), SP, PC, CPSR.
const (
	arm64RegX0 = iota
	arm64RegX1
	arm64RegX2
	arm64RegX3
	arm64RegX4
	arm64RegX5
	arm64RegX6
	arm64RegX7
	arm64RegX8
	arm64RegX9
	arm64RegX10
	arm64RegX11
	arm64RegX12
	arm64RegX13
	arm64RegX14
	arm64RegX15
	arm64RegX16
	arm64RegX17
	arm64RegX18
	arm64RegX19
	arm64RegX20
	arm64RegX21
	arm64RegX22
	arm64RegX23
	arm64RegX24
	arm64RegX25
	arm64RegX26
	arm64RegX27
	arm64RegX28
	arm64RegFP
	arm64RegLR
	arm64RegSP
	arm64RegPC
	arm64RegCPSR
	arm64RegCount
)

var arm64Names = [arm64RegCount]string{
	"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7",
	"x8", "x9", "x10", "x11", "x12", "x13", "x14", "x15",
	"x16", "x17", "x18", "x19", "x20", "x21", "x22", "x23",
	"x24", "x25", "x26", "x27", "x28",
	"fp", "lr", "sp", "pc", "cpsr",
}

var arm64ExceptionNames = []string{"far", "esr", "exception"}

// ARM64 implements the register accessors described in spec.md §4.3 for the
// ARM64 (arm64) architecture.
var ARM64 = Accessors{
	Arch:  ArchARM64,
	HasLR: true,
	PC:    func(g *RegisterFile) uint64 { return g.General[arm64RegPC] },
	SP:    func(g *RegisterFile) uint64 { return g.General[arm64RegSP] },
	FP:    func(g *RegisterFile) uint64 { return g.General[arm64RegFP] },
	LR:    func(g *RegisterFile) uint64 { return g.General[arm64RegLR] },
}

// NewARM64RegisterFile allocates a zeroed register bank sized for ARM64,
// suitable for preallocating once at Install time and reusing across events.
func NewARM64RegisterFile() *RegisterFile {
	return &RegisterFile{
		Arch:           ArchARM64,
		General:        make([]uint64, arm64RegCount),
		Names:          arm64Names[:],
		Exception:      make([]uint64, len(arm64ExceptionNames)),
		ExceptionNames: arm64ExceptionNames,
	}
}
