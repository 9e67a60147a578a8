// Package sentry implements the three exception sentries described in
// spec.md §4.1/§5: the Mach exception port listener, the POSIX signal
// handler, and the language-level (Go panic) handler, plus the hang/
// watchdog sentry. Each is a corectx.Monitor that calls back into a shared
// registry.Registry via the Notify/Handle callback pair (spec.md §2).
package sentry

import (
	"errors"
	"sync/atomic"

	"github.com/dispatchrun/kscrash/internal/corectx"
)

// errUnsupported is returned by every sentry's Init on a platform that
// lacks the underlying kernel primitive (spec.md §1 Non-goals scope this
// module to Darwin/XNU).
var errUnsupported = errors.New("sentry: unsupported on this platform")

// base provides the common Monitor bookkeeping (enable flag, flags, ID)
// every sentry in this package embeds, matching the vtable shape spec.md
// §4.1 describes without repeating the boilerplate four times.
type base struct {
	id      string
	flags   corectx.MonitorFlags
	enabled atomic.Bool
	cb      corectx.Callbacks
}

func (b *base) MonitorID() string           { return b.id }
func (b *base) Flags() corectx.MonitorFlags { return b.flags }
func (b *base) SetEnabled(v bool)           { b.enabled.Store(v) }
func (b *base) Enabled() bool               { return b.enabled.Load() }
func (b *base) NotifyPostSystemEnable()     {}

// AddContextualInfo is a no-op default; sentries that contribute
// cross-cutting state (none currently do) override it.
func (b *base) AddContextualInfo(*corectx.MonitorContext) {}

// WriteReportSection is a no-op default; only the hang/watchdog sentry
// currently contributes its own report section (the crash sentries' data
// lands in MonitorContext directly and is normalized by internal/report).
func (b *base) WriteReportSection(*corectx.MonitorContext, corectx.ReportWriter) error {
	return nil
}

// machExceptionNames mirrors the handful of EXC_* constants spec.md §4.8
// requires by name in mach_exception.
var machExceptionNames = map[int32]string{
	1: "EXC_BAD_ACCESS",
	2: "EXC_BAD_INSTRUCTION",
	3: "EXC_ARITHMETIC",
	4: "EXC_EMULATION",
	5: "EXC_SOFTWARE",
	6: "EXC_BREAKPOINT",
	7: "EXC_SYSCALL",
	8: "EXC_MACH_SYSCALL",
	9: "EXC_RPC_ALERT",
	10: "EXC_CRASH",
	11: "EXC_RESOURCE",
	12: "EXC_GUARD",
	13: "EXC_CORPSE_NOTIFY",
}

// MachExceptionName returns the symbolic EXC_* name for a Mach exception
// type, or "EXC_UNKNOWN" if not recognized.
func MachExceptionName(excType int32) string {
	if name, ok := machExceptionNames[excType]; ok {
		return name
	}
	return "EXC_UNKNOWN"
}

// machToSignal reverse-maps a Mach exception type to the POSIX signal an
// equivalent /bin/kill-style delivery would raise (spec.md §4.8: "a
// derived signal"), following KSCrash's kern_return/mach exception to
// signal table.
var machToSignal = map[int32]int32{
	1: 11, // EXC_BAD_ACCESS -> SIGSEGV
	2: 4,  // EXC_BAD_INSTRUCTION -> SIGILL
	3: 8,  // EXC_ARITHMETIC -> SIGFPE
	5: 5,  // EXC_SOFTWARE -> SIGTRAP
	6: 5,  // EXC_BREAKPOINT -> SIGTRAP
	10: 6, // EXC_CRASH -> SIGABRT
}

// DerivedSignal returns the POSIX signal number a Mach exception type maps
// to, or 0 if there is no natural equivalent.
func DerivedSignal(excType int32) int32 {
	return machToSignal[excType]
}

var signalNames = map[int32]string{
	4:  "SIGILL",
	5:  "SIGTRAP",
	6:  "SIGABRT",
	8:  "SIGFPE",
	10: "SIGBUS",
	11: "SIGSEGV",
	13: "SIGPIPE",
	15: "SIGTERM",
}

// SignalName returns the symbolic name of a POSIX signal number, or
// "UNKNOWN" if not one of the fatal signals this module installs handlers
// for (spec.md §4.1 signal sentry list).
func SignalName(signo int32) string {
	if name, ok := signalNames[signo]; ok {
		return name
	}
	return "UNKNOWN"
}

// signalToMach is the forward counterpart of machToSignal, used by the
// signal sentry to fill the "reverse-mapped Mach exception type" field
// spec.md §4.8 asks every sentry to emit.
var signalToMach = map[int32]int32{
	11: 1, // SIGSEGV -> EXC_BAD_ACCESS
	10: 1, // SIGBUS -> EXC_BAD_ACCESS
	4:  2, // SIGILL -> EXC_BAD_INSTRUCTION
	8:  3, // SIGFPE -> EXC_ARITHMETIC
	5:  6, // SIGTRAP -> EXC_BREAKPOINT
	6:  10, // SIGABRT -> EXC_CRASH
}

// DerivedMachException returns the Mach exception type a POSIX signal
// naturally maps to, or 0 if none.
func DerivedMachException(signo int32) int32 {
	return signalToMach[signo]
}

// signalCodeNames holds the si_code names for the fatal signals this module
// names symbolically in signal_code_name (spec.md §4.8), keyed by signal
// number then si_code, following <sys/signal.h>'s si_code conventions.
var signalCodeNames = map[int32]map[int32]string{
	4: { // SIGILL
		1: "ILL_ILLOPC", 2: "ILL_ILLOPN", 3: "ILL_ILLADR", 4: "ILL_ILLTRP",
		5: "ILL_PRVOPC", 6: "ILL_PRVREG", 7: "ILL_COPROC", 8: "ILL_BADSTK",
	},
	8: { // SIGFPE
		1: "FPE_INTDIV", 2: "FPE_INTOVF", 3: "FPE_FLTDIV", 4: "FPE_FLTOVF",
		5: "FPE_FLTUND", 6: "FPE_FLTRES", 7: "FPE_FLTINV", 8: "FPE_FLTSUB",
	},
	10: { // SIGBUS
		1: "BUS_ADRALN", 2: "BUS_ADRERR", 3: "BUS_OBJERR",
	},
	11: { // SIGSEGV
		1: "SEGV_MAPERR", 2: "SEGV_ACCERR",
	},
	5: { // SIGTRAP
		1: "TRAP_BRKPT", 2: "TRAP_TRACE",
	},
}

// SignalCodeName returns the symbolic si_code name for (signo, code), or
// "UNKNOWN" if signo/code isn't one of the combinations this module names.
func SignalCodeName(signo, code int32) string {
	if names, ok := signalCodeNames[signo]; ok {
		if name, ok := names[code]; ok {
			return name
		}
	}
	return "UNKNOWN"
}
