package unwind

import "github.com/dispatchrun/kscrash/internal/machobin"

// Next advances the cursor one frame and reports whether a frame was
// produced. The first call yields the seed PC itself with MethodNone
// (spec.md §4.4: "the first yielded address is PC"); every subsequent call
// tries compact-unwind, then DWARF CFI, then the frame-pointer walk, in that
// order, recording whichever method actually produced the frame.
func (c *Cursor) Next() (Frame, bool) {
	if c.giveUp || c.depth >= kMaxBacktraceDepth {
		return Frame{}, false
	}

	if c.backtrace != nil {
		if c.btIndex >= len(c.backtrace) {
			c.giveUp = true
			return Frame{}, false
		}
		addr := uint64(c.backtrace[c.btIndex])
		c.btIndex++
		c.depth++
		return Frame{Address: addr, Method: MethodNone}, true
	}

	if !c.started {
		c.started = true
		c.depth++
		c.lastMethod = MethodNone
		return Frame{Address: c.pc, Method: MethodNone}, true
	}

	// On ARM, the link register is consumed exactly once as the second
	// frame (spec.md §4.4 cross-cutting rule). No PC-1 adjustment since LR
	// isn't itself a return address read from memory.
	if c.hasLR && !c.usedLR {
		c.usedLR = true
		if c.lr <= pageSize {
			c.giveUp = true
			return Frame{}, false
		}
		c.pc = c.lr
		c.lastMethod = MethodNone
		c.depth++
		// Run one round of the method chain against this PC (not a return
		// address) to refresh SP/FP before the next call, per spec.md.
		c.advanceState(c.pc, false)
		return Frame{Address: c.pc, Method: MethodNone}, true
	}

	lookupPC := c.pc - 1 // PC is a return address from here on

	res, method, ok := c.tryMethods(lookupPC)
	if !ok {
		c.giveUp = true
		return Frame{}, false
	}
	if res.ReturnAddr <= pageSize {
		c.giveUp = true
		return Frame{}, false
	}

	c.pc = res.ReturnAddr
	c.sp = res.NewSP
	c.fp = res.NewFP
	c.lastMethod = method
	c.depth++

	frame := Frame{Address: c.pc, Method: method}
	if c.fp == 0 {
		c.giveUp = true // emit this frame, then stop on the next call
	}
	return frame, true
}

// advanceState re-derives (SP, FP) from the current (PC, FP) without
// yielding a frame, used only for the post-LR-shortcut refresh.
func (c *Cursor) advanceState(lookupPC uint64, isReturnAddr bool) {
	if isReturnAddr {
		lookupPC--
	}
	if res, _, ok := c.tryMethods(lookupPC); ok {
		c.sp = res.NewSP
		c.fp = res.NewFP
	}
}

// tryMethods runs compact-unwind, then DWARF CFI, then the frame-pointer
// walk against lookupPC, in the order spec.md §4.4 prescribes.
func (c *Cursor) tryMethods(lookupPC uint64) (compactResult, Method, bool) {
	if img := c.findImage(lookupPC); img != nil {
		fileOffset := lookupPC - img.TextAddr

		if entry, ok, unwindInfoAddr := c.unwindEntry(img, fileOffset); ok {
			if r, m, handled := c.decodeEntry(entry, lookupPC); handled {
				return r, m, true
			}
			_ = unwindInfoAddr
		}

		if sec, ok := img.Section("__TEXT", "__eh_frame"); ok {
			if r, ok := c.tryDWARF(sec, lookupPC); ok {
				return r, MethodDWARF, true
			}
		}
	}

	if r, ok := c.tryFP(); ok {
		return r, MethodFP, true
	}
	return compactResult{}, MethodNone, false
}

func (c *Cursor) findImage(addr uint64) *machobin.BinaryImage {
	if c.images == nil {
		return nil
	}
	return c.images.Find(addr)
}

func (c *Cursor) unwindEntry(img *machobin.BinaryImage, fileOffset uint64) (UnwindEntry, bool, uint64) {
	sec, ok := img.Section("__TEXT", "__unwind_info")
	if !ok {
		return UnwindEntry{}, false, 0
	}
	e, ok := FindEntry(c.prober, sec.Addr, fileOffset)
	return e, ok, sec.Addr
}

func (c *Cursor) decodeEntry(entry UnwindEntry, lookupPC uint64) (compactResult, Method, bool) {
	switch c.archID {
	case archARM64:
		if isDwarfModeARM64(entry.Encoding) {
			return compactResult{}, MethodNone, false
		}
		if r, ok := decodeCompactARM64(c.prober, entry.Encoding, lookupPC, c.sp, c.fp); ok {
			return r, MethodCompact, true
		}
	case archX86_64:
		if isDwarfModeX86_64(entry.Encoding) {
			return compactResult{}, MethodNone, false
		}
		if r, ok := decodeCompactX86_64(c.prober, entry.Encoding, c.sp, c.fp); ok {
			return r, MethodCompact, true
		}
	case archARM:
		if r, ok := decodeCompactARM(c.prober, c.fp); ok {
			return r, MethodCompact, true
		}
	}
	return compactResult{}, MethodNone, false
}

func (c *Cursor) tryDWARF(sec machobin.Section, lookupPC uint64) (compactResult, bool) {
	var regs dwarfRegs
	switch c.archID {
	case archARM64:
		regs = dwarfRegsARM64
	case archX86_64:
		regs = dwarfRegsX86_64
	default:
		return compactResult{}, false // 32-bit DWARF unwinding not ported
	}

	cie, fde, fdeLen, ok := FindFDE(c.prober, sec.Addr, sec.Size, lookupPC)
	if !ok {
		return compactResult{}, false
	}
	row, ok := RunCFI(c.prober, cie, fde, fdeLen, lookupPC, regs)
	if !ok {
		return compactResult{}, false
	}
	return row.Resolve(c.prober, func(reg uint8) uint64 {
		switch reg {
		case regs.fp:
			return c.fp
		case regs.cfaDefault:
			return c.sp
		default:
			return 0
		}
	})
}

func (c *Cursor) tryFP() (compactResult, bool) {
	r, ok := walkFP(c.prober, c.fp, c.arch.frameSPDelta)
	if !ok {
		return compactResult{}, false
	}
	return compactResult(r), true
}

// CountDepth runs a separate, unbounded-by-kMaxBacktraceDepth traversal
// (bounded instead by kBacktraceGiveUpPoint) to measure the true chain
// length for stack-overflow detection (spec.md §4.4 "Backtrace length").
// It does not mutate c; callers reset the cursor again afterward to produce
// the actual report backtrace.
func (c *Cursor) CountDepth() int {
	saved := *c
	defer func() { *c = saved }()

	c.depth = 0
	c.giveUp = false
	count := 0
	for count < kBacktraceGiveUpPoint {
		if _, ok := c.Next(); !ok {
			break
		}
		count++
		if c.depth >= kMaxBacktraceDepth {
			c.depth = 0 // CountDepth is not bounded by the report's max depth
		}
	}
	return count
}

// LastMethod returns the method that produced the most recent frame,
// kssc_getUnwindMethod's equivalent (spec.md §4.4).
func (c *Cursor) LastMethod() Method { return c.lastMethod }

// GaveUp reports whether the cursor has stopped producing frames.
func (c *Cursor) GaveUp() bool { return c.giveUp }
