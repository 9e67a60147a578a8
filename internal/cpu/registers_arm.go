package cpu

// 32-bit ARM register indices, retained for the compact-unwind "frame" and
// "frame-D" modes described in spec.md §4.4 even though no currently
// shipping Darwin target runs 32-bit ARM; KSCrash's original source still
// carries this decoder and so do we.
const (
	armRegR0 = iota
	armRegR1
	armRegR2
	armRegR3
	armRegR4
	armRegR5
	armRegR6
	armRegR7 // frame pointer on 32-bit ARM (Thumb) ABI
	armRegR8
	armRegR9
	armRegR10
	armRegR11
	armRegR12
	armRegSP
	armRegLR
	armRegPC
	armRegCPSR
	armRegCount
)

var armNames = [armRegCount]string{
	"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7",
	"r8", "r9", "r10", "r11", "r12", "sp", "lr", "pc", "cpsr",
}

var armExceptionNames = []string{"exception", "fsr", "far"}

// ARM implements the register accessors for 32-bit ARM. R7 is documented as
// the frame-pointer register by the AAPCS-derived Darwin ABI.
var ARM = Accessors{
	Arch:  ArchARM,
	HasLR: true,
	PC:    func(g *RegisterFile) uint64 { return g.General[armRegPC] },
	SP:    func(g *RegisterFile) uint64 { return g.General[armRegSP] },
	FP:    func(g *RegisterFile) uint64 { return g.General[armRegR7] },
	LR:    func(g *RegisterFile) uint64 { return g.General[armRegLR] },
}

// NewARMRegisterFile allocates a zeroed register bank sized for 32-bit ARM.
func NewARMRegisterFile() *RegisterFile {
	return &RegisterFile{
		Arch:           ArchARM,
		General:        make([]uint64, armRegCount),
		Names:          armNames[:],
		Exception:      make([]uint64, len(armExceptionNames)),
		ExceptionNames: armExceptionNames,
	}
}
