// Package unwind walks a thread's call stack using, in order of preference,
// Apple's compact-unwind tables, DWARF call-frame information, and a
// frame-pointer fallback (spec.md §4.4). It is the direct Go-port of
// KSCrash's kssc_* stack-cursor API, realized as a Go struct with an explicit
// method table instead of C function pointers (spec.md's "sum type instead
// of vtable" redesign guidance).
package unwind

import (
	"github.com/dispatchrun/kscrash/internal/cpu"
	"github.com/dispatchrun/kscrash/internal/machctx"
	"github.com/dispatchrun/kscrash/internal/machkit"
	"github.com/dispatchrun/kscrash/internal/machobin"
)

// Method identifies which technique produced a given frame.
type Method uint8

const (
	MethodNone Method = iota
	MethodCompact
	MethodDWARF
	MethodFP
)

func (m Method) String() string {
	switch m {
	case MethodCompact:
		return "compact"
	case MethodDWARF:
		return "dwarf"
	case MethodFP:
		return "fp"
	default:
		return "none"
	}
}

// pageSize is the NULL-page sentinel threshold (spec.md §4.4): any candidate
// return address at or below this is rejected outright.
const pageSize = 4096

// kMaxBacktraceDepth bounds a normal report's backtrace.
const kMaxBacktraceDepth = 50

// kOverflowThreshold marks a walk as a stack overflow once exceeded.
const kOverflowThreshold = 200

// kBacktraceGiveUpPoint bounds the separate overflow-detection traversal so
// a corrupt chain can't spin forever.
const kBacktraceGiveUpPoint = 10000

// Frame is one yielded stack entry: the instruction address and which
// method produced it (MethodNone for the initial PC and the LR-shortcut
// frame, per spec.md §4.4).
type Frame struct {
	Address uint64
	Method  Method
}

// Cursor iterates over a thread's call stack and can be reused across Reset
// calls.
type Cursor struct {
	prober machkit.Prober
	images *machobin.Cache
	cache  *Cache

	archID uint8
	arch   archOps
	pc, sp, fp, lr uint64
	hasLR  bool

	depth     int
	giveUp    bool
	started   bool
	usedLR    bool
	lastMethod Method

	// backtrace and btIndex back the from-backtrace variant; backtrace is
	// nil for the from-machine-context variant.
	backtrace []uintptr
	btIndex   int
}

// archOps is the small set of arch-specific numbers the orchestrator needs;
// everything else is expressed generically in unwind.go.
type archOps struct {
	frameSPDelta uint64 // new SP = FP + frameSPDelta on a plain FP-walk step
}

var archOpsFor = map[uint8]archOps{
	archARM64:  {frameSPDelta: 16},
	archX86_64: {frameSPDelta: 16},
	archARM:    {frameSPDelta: 8},
	archX86:    {frameSPDelta: 8},
}

const (
	archUnknown uint8 = iota
	archARM64
	archX86_64
	archARM
	archX86
)

// NewCursor builds a cursor bound to prober (for safe memory reads), images
// (for locating the function a PC belongs to), and cache (may be nil). The
// cursor stores cache but its method chain never consults it: every lookup
// reads the image's __unwind_info and __eh_frame sections directly.
func NewCursor(prober machkit.Prober, images *machobin.Cache, cache *Cache) *Cursor {
	return &Cursor{prober: prober, images: images, cache: cache}
}

// ResetFromContext seeds the cursor from a suspended thread's machine
// context, the "from-machine-context" StackCursor variant (spec.md §3).
func (c *Cursor) ResetFromContext(mc *machctx.MachineContext) {
	c.pc = mc.PC()
	c.sp = mc.SP()
	c.fp = mc.FPReg()
	acc := mc.Accessors()
	c.hasLR = acc.HasLR
	if c.hasLR {
		c.lr = mc.LR()
	}
	c.archID = archFromCPU(mc.Arch)
	c.arch = archOpsFor[c.archID]
	c.depth = 0
	c.giveUp = false
	c.started = false
	c.usedLR = false
	c.lastMethod = MethodNone
	c.backtrace = nil
	c.btIndex = 0
}

// ResetFromBacktrace seeds the cursor from a pre-captured list of addresses
// (the "from-backtrace" StackCursor variant, spec.md §3), used for language
// exceptions that hand over their own backtrace rather than a machine
// context. Next() on this variant simply walks the slice; no memory probing
// or method chain is involved.
func (c *Cursor) ResetFromBacktrace(addrs []uintptr) {
	c.backtrace = addrs
	c.btIndex = 0
	c.depth = 0
	c.giveUp = false
	c.started = true // addresses are already return addresses, no PC seed step
	c.lastMethod = MethodNone
}

func archFromCPU(a cpu.Arch) uint8 {
	switch a {
	case cpu.ArchARM64:
		return archARM64
	case cpu.ArchX86_64:
		return archX86_64
	case cpu.ArchARM:
		return archARM
	case cpu.ArchX86:
		return archX86
	default:
		return archUnknown
	}
}
