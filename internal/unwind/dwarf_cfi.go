package unwind

import "github.com/dispatchrun/kscrash/internal/machkit"

// cfiRule describes where one register's old value (or the CFA) can be
// recovered from, the DWARF CFA table's per-column state (spec.md §4.4.2).
type cfiRule struct {
	// offset is valid when kind == cfiRuleOffset: value = *(CFA + offset).
	kind   cfiRuleKind
	offset int64
	reg    uint8 // valid when kind == cfiRuleRegister
}

type cfiRuleKind uint8

const (
	cfiRuleUndefined cfiRuleKind = iota
	cfiRuleOffset
	cfiRuleRegister
)

// cfiRow is the decoded CFA + return-address + frame-pointer recovery rule
// after running a CIE's initial instructions followed by an FDE's
// instructions up to the target PC.
type cfiRow struct {
	cfaReg    uint8
	cfaOffset int64
	raRule    cfiRule
	fpRule    cfiRule
}

// dwarfRegs names the two DWARF register numbers this port cares about per
// architecture: the return-address column and the frame-pointer column.
type dwarfRegs struct {
	ra, fp, cfaDefault uint8
}

var dwarfRegsARM64 = dwarfRegs{ra: 30, fp: 29, cfaDefault: 31} // LR=x30, FP=x29, SP=x31/wsp
var dwarfRegsX86_64 = dwarfRegs{ra: 16, fp: 6, cfaDefault: 7}  // ReturnAddress col, RBP=6, RSP=7

const (
	dwCFAAdvanceLoc    = 0x40 // high 2 bits set, low 6 bits = delta
	dwCFAOffset        = 0x80 // high 2 bits set, low 6 bits = register
	dwCFARestore       = 0xC0

	dwCFANop              = 0x00
	dwCFASetLoc           = 0x01
	dwCFAAdvanceLoc1      = 0x02
	dwCFAAdvanceLoc2      = 0x03
	dwCFAAdvanceLoc4      = 0x04
	dwCFAOffsetExtended   = 0x05
	dwCFARestoreExtended  = 0x06
	dwCFAUndefined        = 0x07
	dwCFASameValue        = 0x08
	dwCFARegister         = 0x09
	dwCFARememberState    = 0x0A
	dwCFARestoreState     = 0x0B
	dwCFADefCFA           = 0x0C
	dwCFADefCFARegister   = 0x0D
	dwCFADefCFAOffset     = 0x0E
	dwCFADefCFAExpression = 0x0F // declines: expression opcodes out of scope
	dwCFAExpression       = 0x10 // declines
	dwCFAOffsetExtendedSF = 0x11
	dwCFADefCFASF         = 0x12
	dwCFADefCFAOffsetSF   = 0x13
)

// FindFDE scans __eh_frame sequentially (spec.md §4.4.2: "parse the section
// sequentially, skipping CIEs") looking for the FDE whose PC range contains
// target. sectionAddr and sectionSize bound the scan; pcRebase converts an
// FDE's encoded, section-relative PC-start into an absolute address (the
// common pcrel|sdata4 encoding assumed here, the one clang emits).
func FindFDE(p machkit.Prober, sectionAddr, sectionSize, target uint64) (cieAddr, fdeAddr, fdeLen uint64, ok bool) {
	cursor := sectionAddr
	end := sectionAddr + sectionSize
	for cursor+4 <= end {
		length, err := p.ReadUint32(cursor)
		if err != nil {
			return 0, 0, 0, false
		}
		if length == 0 {
			break // terminator entry
		}
		if length == 0xffffffff {
			return 0, 0, 0, false // 64-bit DWARF format: explicitly out of scope
		}
		entryAddr := cursor + 4
		entryEnd := entryAddr + uint64(length)

		cieOffsetField, err := p.ReadUint32(entryAddr)
		if err != nil {
			return 0, 0, 0, false
		}
		if cieOffsetField == 0 {
			// This entry is itself a CIE; skip it per spec.md §4.4.2.
			cursor = entryEnd
			continue
		}

		// FDE: cieOffsetField is entryAddr - CIE address (eh_frame style).
		cie := entryAddr - uint64(cieOffsetField)

		pcStart, err := p.ReadUint32(entryAddr + 4)
		if err != nil {
			return 0, 0, 0, false
		}
		pcRange, err := p.ReadUint32(entryAddr + 8)
		if err != nil {
			return 0, 0, 0, false
		}
		// pcrel sdata4: the start is relative to its own field's address.
		start := (entryAddr + 4) + uint64(int64(int32(pcStart)))
		if target >= start && target < start+uint64(pcRange) {
			return cie, entryAddr, uint64(length), true
		}
		cursor = entryEnd
	}
	return 0, 0, 0, false
}

// RunCFI parses the CIE starting at cieAddr, runs its initial instructions,
// then runs the FDE body at fdeAddr up to target, producing the row in
// effect there (spec.md §4.4.2). Augmentations other than a bare
// 'z'+L/P/R/S, and DW_CFA_{def_cfa,}_expression, cause it to decline
// (spec.md §4.4.2: "unknown augmentations abort").
func RunCFI(p machkit.Prober, cieAddr, fdeAddr, fdeLen, target uint64, regs dwarfRegs) (cfiRow, bool) {
	cieLen, err := p.ReadUint32(cieAddr)
	if err != nil || cieLen == 0xffffffff {
		return cfiRow{}, false
	}
	cieBody := cieAddr + 4
	cieID, err := p.ReadUint32(cieBody)
	if err != nil || cieID != 0 {
		return cfiRow{}, false // not actually a CIE
	}
	version, err := p.ReadUint32(cieBody + 4)
	if err != nil {
		return cfiRow{}, false
	}
	ver := uint8(version)
	if ver != 1 && ver != 3 {
		return cfiRow{}, false
	}

	// Augmentation string: NUL-terminated bytes immediately after version.
	augAddr := cieBody + 4 + 1
	str, off, ok := readCStringForCFI(p, augAddr)
	if !ok {
		return cfiRow{}, false
	}
	hasZ := false
	for _, c := range str {
		switch c {
		case 'z':
			hasZ = true
		case 'L', 'P', 'R', 'S':
		default:
			return cfiRow{}, false // unknown augmentation, decline
		}
	}

	var n uint64
	codeAlign, n, ok := readULEB128(p, off)
	if !ok {
		return cfiRow{}, false
	}
	off += n

	dataAlign, n, ok := readSLEB128(p, off)
	if !ok {
		return cfiRow{}, false
	}
	off += n

	if ver == 1 {
		// return_address_register is a single byte in CIE version 1; this
		// port only needs regs.ra/regs.fp by name, not this raw value.
		if _, ok := readByteForCFI(p, off); !ok {
			return cfiRow{}, false
		}
		off++
	} else {
		_, n, ok = readULEB128(p, off)
		if !ok {
			return cfiRow{}, false
		}
		off += n
	}

	if hasZ {
		augLen, n, ok := readULEB128(p, off)
		if !ok {
			return cfiRow{}, false
		}
		off += n + augLen
	}

	cieEnd := cieBody + uint64(cieLen)
	initial := cfiRow{cfaReg: regs.cfaDefault}
	if !execCFAProgram(p, off, cieEnd, regs, &initial, &initial, codeAlign, dataAlign, nil, 0) {
		return cfiRow{}, false
	}

	row := initial

	pcStartRaw, err := p.ReadUint32(fdeAddr + 4)
	if err != nil {
		return cfiRow{}, false
	}
	loc := (fdeAddr + 4) + uint64(int64(int32(pcStartRaw)))

	fdeOff := fdeAddr + 12
	if hasZ {
		augLen, n, ok := readULEB128(p, fdeOff)
		if !ok {
			return cfiRow{}, false
		}
		fdeOff += n + augLen
	}
	fdeEnd := fdeAddr + fdeLen

	if !execCFAProgram(p, fdeOff, fdeEnd, regs, &row, &initial, codeAlign, dataAlign, &loc, target) {
		return cfiRow{}, false
	}
	return row, true
}

// execCFAProgram interprets one CFA instruction stream (either a CIE's
// initial instructions or an FDE's body) into row, consulting initial for
// DW_CFA_restore/restore_extended. When loc is non-nil, advance-location
// opcodes update *loc and the loop stops as soon as *loc exceeds target,
// leaving row holding the state in effect at target (spec.md §4.4.2's
// "interpret every standard opcode ... up to the target PC"); when loc is
// nil (the CIE pass) every instruction in [addr,end) runs unconditionally.
func execCFAProgram(p machkit.Prober, addr, end uint64, regs dwarfRegs, row, initial *cfiRow, codeAlign uint64, dataAlign int64, loc *uint64, target uint64) bool {
	var stack []cfiRow
	const maxStateStackDepth = 8 // spec.md §4.4.2's depth-8 remember/restore stack

	setRule := func(reg uint8, rule cfiRule) {
		switch reg {
		case regs.ra:
			row.raRule = rule
		case regs.fp:
			row.fpRule = rule
		}
	}
	restoreRule := func(reg uint8) {
		switch reg {
		case regs.ra:
			row.raRule = initial.raRule
		case regs.fp:
			row.fpRule = initial.fpRule
		}
	}
	advance := func(delta uint64) bool {
		if loc == nil {
			return true
		}
		*loc += delta * codeAlign
		return *loc <= target
	}

	for addr < end {
		b, ok := readByteForCFI(p, addr)
		if !ok {
			return false
		}
		addr++

		switch b & 0xC0 {
		case dwCFAAdvanceLoc:
			if !advance(uint64(b & 0x3F)) {
				return true
			}
			continue
		case dwCFAOffset:
			off, n, ok := readULEB128(p, addr)
			if !ok {
				return false
			}
			addr += n
			setRule(b&0x3F, cfiRule{kind: cfiRuleOffset, offset: int64(off) * dataAlign})
			continue
		case dwCFARestore:
			restoreRule(b & 0x3F)
			continue
		}

		switch b {
		case dwCFANop:
		case dwCFASetLoc:
			v, err := p.ReadUint64(addr)
			if err != nil {
				return false
			}
			addr += 8
			if loc != nil {
				*loc = v
				if *loc > target {
					return true
				}
			}
		case dwCFAAdvanceLoc1:
			d, ok := readByteForCFI(p, addr)
			if !ok {
				return false
			}
			addr++
			if !advance(uint64(d)) {
				return true
			}
		case dwCFAAdvanceLoc2:
			lo, ok1 := readByteForCFI(p, addr)
			hi, ok2 := readByteForCFI(p, addr+1)
			if !ok1 || !ok2 {
				return false
			}
			addr += 2
			if !advance(uint64(lo) | uint64(hi)<<8) {
				return true
			}
		case dwCFAAdvanceLoc4:
			v, err := p.ReadUint32(addr)
			if err != nil {
				return false
			}
			addr += 4
			if !advance(uint64(v)) {
				return true
			}
		case dwCFAOffsetExtended:
			reg, n1, ok1 := readULEB128(p, addr)
			if !ok1 {
				return false
			}
			addr += n1
			off, n2, ok2 := readULEB128(p, addr)
			if !ok2 {
				return false
			}
			addr += n2
			setRule(uint8(reg), cfiRule{kind: cfiRuleOffset, offset: int64(off) * dataAlign})
		case dwCFARestoreExtended:
			reg, n, ok := readULEB128(p, addr)
			if !ok {
				return false
			}
			addr += n
			restoreRule(uint8(reg))
		case dwCFAUndefined:
			reg, n, ok := readULEB128(p, addr)
			if !ok {
				return false
			}
			addr += n
			setRule(uint8(reg), cfiRule{kind: cfiRuleUndefined})
		case dwCFASameValue:
			reg, n, ok := readULEB128(p, addr)
			if !ok {
				return false
			}
			addr += n
			setRule(uint8(reg), cfiRule{kind: cfiRuleRegister, reg: uint8(reg)})
		case dwCFARegister:
			reg, n1, ok1 := readULEB128(p, addr)
			if !ok1 {
				return false
			}
			addr += n1
			reg2, n2, ok2 := readULEB128(p, addr)
			if !ok2 {
				return false
			}
			addr += n2
			setRule(uint8(reg), cfiRule{kind: cfiRuleRegister, reg: uint8(reg2)})
		case dwCFARememberState:
			if len(stack) >= maxStateStackDepth {
				return false
			}
			stack = append(stack, *row)
		case dwCFARestoreState:
			if len(stack) == 0 {
				return false
			}
			*row = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
		case dwCFADefCFA:
			reg, n1, ok1 := readULEB128(p, addr)
			if !ok1 {
				return false
			}
			addr += n1
			off, n2, ok2 := readULEB128(p, addr)
			if !ok2 {
				return false
			}
			addr += n2
			row.cfaReg = uint8(reg)
			row.cfaOffset = int64(off)
		case dwCFADefCFARegister:
			reg, n, ok := readULEB128(p, addr)
			if !ok {
				return false
			}
			addr += n
			row.cfaReg = uint8(reg)
		case dwCFADefCFAOffset:
			off, n, ok := readULEB128(p, addr)
			if !ok {
				return false
			}
			addr += n
			row.cfaOffset = int64(off)
		case dwCFADefCFAExpression, dwCFAExpression:
			return false // expression opcodes out of scope, decline
		case dwCFAOffsetExtendedSF:
			reg, n1, ok1 := readULEB128(p, addr)
			if !ok1 {
				return false
			}
			addr += n1
			off, n2, ok2 := readSLEB128(p, addr)
			if !ok2 {
				return false
			}
			addr += n2
			setRule(uint8(reg), cfiRule{kind: cfiRuleOffset, offset: off * dataAlign})
		case dwCFADefCFASF:
			reg, n1, ok1 := readULEB128(p, addr)
			if !ok1 {
				return false
			}
			addr += n1
			off, n2, ok2 := readSLEB128(p, addr)
			if !ok2 {
				return false
			}
			addr += n2
			row.cfaReg = uint8(reg)
			row.cfaOffset = off * dataAlign
		case dwCFADefCFAOffsetSF:
			off, n, ok := readSLEB128(p, addr)
			if !ok {
				return false
			}
			addr += n
			row.cfaOffset = off * dataAlign
		default:
			return false // unknown/reserved opcode, decline
		}
	}
	return true
}

// readByteForCFI reads a single byte through the Prober, the building block
// the ULEB128/SLEB128 readers and opcode loop decode CFA instructions with.
func readByteForCFI(p machkit.Prober, addr uint64) (byte, bool) {
	var buf [1]byte
	if err := p.ReadInto(buf[:], addr); err != nil {
		return 0, false
	}
	return buf[0], true
}

// readULEB128 decodes an unsigned LEB128 value starting at addr, returning
// the value, the number of bytes consumed, and whether the read succeeded.
func readULEB128(p machkit.Prober, addr uint64) (value uint64, n uint64, ok bool) {
	var shift uint
	for {
		b, readOK := readByteForCFI(p, addr+n)
		if !readOK {
			return 0, 0, false
		}
		n++
		if shift >= 64 {
			return 0, 0, false
		}
		value |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, n, true
		}
		shift += 7
	}
}

// readSLEB128 decodes a signed LEB128 value starting at addr.
func readSLEB128(p machkit.Prober, addr uint64) (value int64, n uint64, ok bool) {
	var shift uint
	var b byte
	for {
		var readOK bool
		b, readOK = readByteForCFI(p, addr+n)
		if !readOK {
			return 0, 0, false
		}
		n++
		if shift >= 64 {
			return 0, 0, false
		}
		value |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && b&0x40 != 0 {
		value |= -1 << shift
	}
	return value, n, true
}

func readCStringForCFI(p machkit.Prober, addr uint64) (string, uint64, bool) {
	buf := make([]byte, 0, 8)
	for i := uint64(0); i < 16; i++ {
		b, err := p.ReadUint32(addr + i)
		if err != nil {
			return "", 0, false
		}
		lo := byte(b)
		if lo == 0 {
			return string(buf), addr + i + 1, true
		}
		buf = append(buf, lo)
	}
	return "", 0, false
}

// Resolve evaluates row against the probe and fp/sp register values to
// produce a compactResult-shaped outcome, recovering CFA, return address,
// and new frame pointer per their rules (spec.md §4.4.2).
func (row cfiRow) Resolve(p machkit.Prober, generalRegs func(dwarfReg uint8) uint64) (compactResult, bool) {
	cfa := generalRegs(row.cfaReg) + uint64(row.cfaOffset)

	ra, ok := row.raRule.resolve(p, cfa, generalRegs)
	if !ok || ra == 0 {
		return compactResult{}, false
	}
	fp := cfa // if no explicit rule, conservatively carry CFA forward
	if row.fpRule.kind != cfiRuleUndefined {
		if v, ok := row.fpRule.resolve(p, cfa, generalRegs); ok {
			fp = v
		}
	}
	return compactResult{ReturnAddr: ra, NewSP: cfa, NewFP: fp}, true
}

func (r cfiRule) resolve(p machkit.Prober, cfa uint64, generalRegs func(uint8) uint64) (uint64, bool) {
	switch r.kind {
	case cfiRuleOffset:
		v, err := p.ReadUint64(uint64(int64(cfa) + r.offset))
		if err != nil {
			return 0, false
		}
		return v, true
	case cfiRuleRegister:
		return generalRegs(r.reg), true
	default:
		return 0, false
	}
}
