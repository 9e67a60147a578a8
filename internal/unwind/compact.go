package unwind

import "github.com/dispatchrun/kscrash/internal/machkit"

// compactResult is what a successful compact-unwind decode produces: the
// return address for this frame plus the new (SP, FP) to seed the next one.
type compactResult struct {
	ReturnAddr uint64
	NewSP      uint64
	NewFP      uint64
}

// decodeCompactARM64 implements spec.md §4.4.1's ARM64 frame and frameless
// cases. mode must already have been checked not to be the DWARF sentinel.
//
// Known gap: the frame case only recovers the LR/FP/SP chain needed to
// continue the return-address walk. It does not decode the saved
// X19/X20...X27/X28 register-pair flags also encoded in bits 0-9 of enc —
// those registers aren't consulted anywhere in this package, since nothing
// downstream needs a non-crashing frame's callee-saved GPRs, only its return
// address.
func decodeCompactARM64(p machkit.Prober, enc uint32, pc, sp, fp uint64) (compactResult, bool) {
	const (
		modeMask     = 0x0F000000
		modeFrame    = 0x04000000
		modeFrameless = 0x02000000
	)
	switch enc & modeMask {
	case modeFrame:
		lr, err := p.ReadUint64(fp + 8)
		if err != nil {
			return compactResult{}, false
		}
		newFP, err := p.ReadUint64(fp)
		if err != nil {
			return compactResult{}, false
		}
		return compactResult{ReturnAddr: lr, NewSP: fp + 16, NewFP: newFP}, true
	case modeFrameless:
		stackSize := ((enc >> 12) & 0xFFF) * 16
		if stackSize == 0 {
			return compactResult{}, false // "LR is the return" — caller already has it
		}
		ret, err := p.ReadUint64(sp + uint64(stackSize) - 8)
		if err != nil {
			return compactResult{}, false
		}
		return compactResult{ReturnAddr: ret, NewSP: sp + uint64(stackSize), NewFP: fp}, true
	default:
		return compactResult{}, false
	}
}

// decodeCompactX86_64 implements spec.md §4.4.1's x86_64 RBP-frame and
// frameless-immediate cases. The frameless-indirect case always declines
// (requires prologue disassembly, explicitly out of scope).
func decodeCompactX86_64(p machkit.Prober, enc uint32, sp, fp uint64) (compactResult, bool) {
	const (
		modeMask           = 0x0F000000
		modeRBPFrame       = 0x01000000
		modeStackImmediate = 0x02000000
		modeStackIndirect  = 0x03000000
	)
	switch enc & modeMask {
	case modeRBPFrame:
		ret, err := p.ReadUint64(fp + 8)
		if err != nil {
			return compactResult{}, false
		}
		newFP, err := p.ReadUint64(fp)
		if err != nil {
			return compactResult{}, false
		}
		return compactResult{ReturnAddr: ret, NewSP: fp + 16, NewFP: newFP}, true
	case modeStackImmediate:
		encoded := ((enc >> 16) & 0xFF) * 8
		total := uint64(encoded) + 8
		ret, err := p.ReadUint64(sp + total - 8)
		if err != nil {
			return compactResult{}, false
		}
		return compactResult{ReturnAddr: ret, NewSP: sp + total, NewFP: fp}, true
	case modeStackIndirect:
		return compactResult{}, false
	default:
		return compactResult{}, false
	}
}

// decodeCompactARM implements spec.md §4.4.1's 32-bit ARM frame / frame-D
// cases: new R7 at [R7], return at [R7+4] with the Thumb bit cleared, new SP
// = R7+8.
func decodeCompactARM(p machkit.Prober, r7 uint64) (compactResult, bool) {
	ret, err := p.ReadUint32(r7 + 4)
	if err != nil {
		return compactResult{}, false
	}
	newR7, err := p.ReadUint32(r7)
	if err != nil {
		return compactResult{}, false
	}
	return compactResult{ReturnAddr: uint64(ret) &^ 1, NewSP: r7 + 8, NewFP: uint64(newR7)}, true
}

// isDwarfModeARM64 and isDwarfModeX86_64 report whether a compact encoding's
// mode bits are the architecture's "defer to DWARF" sentinel.
func isDwarfModeARM64(enc uint32) bool {
	return enc&unwindModeMaskARM64 == unwindModeDwarfARM64
}

func isDwarfModeX86_64(enc uint32) bool {
	return enc&unwindModeMaskX86_64 == unwindModeDwarfX86_64
}
