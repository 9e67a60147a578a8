// Package corectx defines the clearing-house types shared by every monitor,
// sentry, and the report writer: the MonitorContext record and the
// ExceptionHandlingPolicy bitset described in spec.md §3 and §4.1. It is
// deliberately dependency-light so that every other internal package (and
// the root kscrash package) can import it without cycles.
package corectx

import (
	"github.com/dispatchrun/kscrash/internal/machctx"
)

// ExceptionHandlingPolicy is a bitset describing how the current event
// should be handled, accumulated across every monitor that contributes a
// requirement (spec.md §3).
type ExceptionHandlingPolicy uint32

const (
	PolicyNone ExceptionHandlingPolicy = 0

	// ShouldExitImmediately tells handle() to terminate the process
	// instead of letting the original handler resume normal control flow.
	ShouldExitImmediately ExceptionHandlingPolicy = 1 << iota
	// IsFatal means the event can't be survived: once handled, async-safe
	// monitors must be disabled and the original exception re-raised.
	IsFatal
	// RequiresAsyncSafety is incremented conceptually (OR'd here) by
	// anything that forces the rest of the pipeline into async-safe mode.
	RequiresAsyncSafety
	// CrashedDuringExceptionHandling marks a recursive/second crash.
	CrashedDuringExceptionHandling
	// ShouldRecordThreads tells notify() to suspend all non-reserved
	// threads and capture their machine contexts.
	ShouldRecordThreads
	// ShouldWriteReport tells handle() to invoke the report writer.
	ShouldWriteReport
)

// Has reports whether all bits in want are set in p.
func (p ExceptionHandlingPolicy) Has(want ExceptionHandlingPolicy) bool {
	return p&want == want
}

// ExceptionClass discriminates which sentry produced a MonitorContext, used
// by the report writer to normalize error info (spec.md §4.8).
type ExceptionClass uint8

const (
	ClassNone ExceptionClass = iota
	ClassMach
	ClassSignal
	ClassNSException
	ClassCPPException
	ClassUser
)

func (c ExceptionClass) String() string {
	switch c {
	case ClassMach:
		return "mach"
	case ClassSignal:
		return "signal"
	case ClassNSException:
		return "nsexception"
	case ClassCPPException:
		return "cppexception"
	case ClassUser:
		return "user"
	default:
		return "none"
	}
}

// MachSpecific carries the Mach-exception-specific sub-struct.
type MachSpecific struct {
	ExceptionType int32
	Code          int64
	Subcode       int64
}

// SignalSpecific carries the POSIX-signal-specific sub-struct.
type SignalSpecific struct {
	Signo int32
	Code  int32
}

// LanguageSpecific carries the language-exception sub-struct (ObjC/C++/Go
// panic), the spec's "NSException/CPPException" classes generalized to
// whatever the host language runtime is.
type LanguageSpecific struct {
	Name              string
	Reason            string
	PrebakedBacktrace []uintptr // addresses captured by the language runtime itself
}

// UserSpecific carries the user-triggered-report sub-struct.
type UserSpecific struct {
	Reason string
}

// MonitorContext is the clearing-house record filled during an event
// (spec.md §3). It is allocated once per Registry (not from the heap at
// event time) and reused; Reset clears it back to zero value semantics
// between events.
type MonitorContext struct {
	EventID       [16]byte // UUID bytes
	HandlerIndex  int
	Policy        ExceptionHandlingPolicy
	Class         ExceptionClass
	FaultAddress  uint64
	MonitorID     string
	MonitorFlags  uint32
	OffendingTID  uint64
	Crashed       *machctx.MachineContext
	Mach          MachSpecific
	Signal        SignalSpecific
	Language      LanguageSpecific
	User          UserSpecific
	ReportPath    string
	IsRecrash     bool
	StackOverflow bool
}

// Reset clears the context to its zero-event state without releasing the
// backing Crashed machine context (which the caller preallocated).
func (c *MonitorContext) Reset() {
	crashed := c.Crashed
	*c = MonitorContext{Crashed: crashed}
}

// MonitorFlags describes the static capabilities of a Monitor, returned by
// Monitor.Flags() (spec.md §4.1: "fatal? debugger-unsafe? async-safe?").
type MonitorFlags uint32

const (
	FlagNone MonitorFlags = 0
	FlagFatal MonitorFlags = 1 << iota
	FlagDebuggerUnsafe
	FlagAsyncSafe
)

// Monitor is the interface every sentry implements, mirroring the vtable
// described in spec.md §4.1.
type Monitor interface {
	Init(callbacks Callbacks) error
	MonitorID() string
	Flags() MonitorFlags
	SetEnabled(enabled bool)
	Enabled() bool
	AddContextualInfo(ctx *MonitorContext)
	NotifyPostSystemEnable()
	WriteReportSection(ctx *MonitorContext, w ReportWriter) error
}

// ReportWriter is the minimal surface the report writer exposes to monitors
// wanting to add a section to the in-flight report, kept abstract here to
// avoid an import cycle with internal/report.
type ReportWriter interface {
	BeginObject(name string)
	EndContainer()
	AddString(name, value string)
	AddUInt(name string, value uint64)
	AddBool(name string, value bool)
}

// Callbacks bundles the two coordination points every monitor receives at
// Init time (spec.md §4.1).
type Callbacks struct {
	Notify func(offendingTID uint64, requirements ExceptionHandlingPolicy) *MonitorContext
	Handle func(ctx *MonitorContext)
}
