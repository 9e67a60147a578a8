package unwind

import "github.com/dispatchrun/kscrash/internal/machkit"

// fpResult mirrors compactResult for the frame-pointer fallback.
type fpResult struct {
	ReturnAddr uint64
	NewSP      uint64
	NewFP      uint64
}

// walkFP implements spec.md §4.4.3: read {previous, return_address} at fp,
// reject if return_address is 0 or the stack-direction invariant is
// violated (previous != 0 && previous <= fp), and compute the new SP using
// spDelta (16 for arm64/x86_64, 8 for arm/x86).
func walkFP(p machkit.Prober, fp uint64, spDelta uint64) (fpResult, bool) {
	if fp == 0 {
		return fpResult{}, false
	}
	previous, err := p.ReadUint64(fp)
	if err != nil {
		return fpResult{}, false
	}
	retAddr, err := p.ReadUint64(fp + 8)
	if err != nil {
		return fpResult{}, false
	}
	if retAddr == 0 {
		return fpResult{}, false
	}
	if previous != 0 && previous <= fp {
		return fpResult{}, false
	}
	return fpResult{ReturnAddr: retAddr, NewSP: fp + spDelta, NewFP: previous}, true
}
