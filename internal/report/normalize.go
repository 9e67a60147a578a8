package report

import (
	"github.com/dispatchrun/kscrash/internal/corectx"
	"github.com/dispatchrun/kscrash/internal/machctx"
	"github.com/dispatchrun/kscrash/internal/machobin"
	"github.com/dispatchrun/kscrash/internal/sentry"
	"github.com/dispatchrun/kscrash/internal/unwind"
)

// machExcCrash is EXC_CRASH, the Mach exception language exceptions
// synthesize (spec.md §4.8: "synthesized EXC_CRASH/SIGABRT").
const machExcCrash int32 = 10

// Kernel return codes this port names in mach_code_name, mirroring the
// handful <mach/kern_return.h> values a crash report actually needs.
const (
	krSuccess            = 0
	krInvalidAddress     = 1
	krProtectionFailure  = 2
	krNoSpace            = 3
	krBadAccess          = 10
)

var machCodeNames = map[int64]string{
	krSuccess:           "KERN_SUCCESS",
	krInvalidAddress:    "KERN_INVALID_ADDRESS",
	krProtectionFailure: "KERN_PROTECTION_FAILURE",
	krNoSpace:           "KERN_NO_SPACE",
	krBadAccess:         "KERN_BAD_ACCESS",
}

// MachCodeName returns the symbolic name for a mach exception code, or
// "UNKNOWN" for a code that machCodeNames does not list.
func MachCodeName(code int64) string {
	if name, ok := machCodeNames[code]; ok {
		return name
	}
	return "UNKNOWN"
}

// BuildErrorInfo normalizes a MonitorContext's exception-class-specific
// sub-struct into the report's unified ErrorInfo (spec.md §4.8), applying
// the KERN_PROTECTION_FAILURE→KERN_INVALID_ADDRESS correction when the
// context is flagged as a stack overflow.
func BuildErrorInfo(ctx *corectx.MonitorContext) ErrorInfo {
	info := ErrorInfo{Address: ctx.FaultAddress}

	switch ctx.Class {
	case corectx.ClassMach:
		info.Type = "mach"
		info.MachType = ctx.Mach.ExceptionType
		info.MachCode = ctx.Mach.Code
		info.MachSubcode = ctx.Mach.Subcode
		if ctx.StackOverflow && info.MachCode == krProtectionFailure {
			info.MachCode = krInvalidAddress
		}
		info.Signal = sentry.DerivedSignal(info.MachType)
	case corectx.ClassSignal:
		info.Type = "signal"
		info.Signal = ctx.Signal.Signo
		info.SignalCode = ctx.Signal.Code
		info.MachType = sentry.DerivedMachException(info.Signal)
	case corectx.ClassNSException, corectx.ClassCPPException:
		info.Type = "nsexception"
		info.NSExceptionName = ctx.Language.Name
		info.NSExceptionReason = ctx.Language.Reason
		info.MachType = machExcCrash
		info.Signal = sentry.DerivedSignal(machExcCrash)
	case corectx.ClassUser:
		info.Type = "user"
		info.UserReason = ctx.User.Reason
	default:
		info.Type = "none"
	}
	return info
}

// BuildThreadReport runs cursor to at most unwind.kMaxBacktraceDepth frames
// against mc, resolving each frame's symbol via images, and applies the
// stack-overflow skip rule from spec.md §4.8: when the true chain length
// (measured separately via cursor.CountDepth, on a copy) exceeds the
// overflow threshold, backtrace_skipped is set to length-maxDepth and the
// thread is marked isStackOverflow.
func BuildThreadReport(index int, mc *machctx.MachineContext, cursor *unwind.Cursor, images *machobin.Cache, symbolsOf func(*machobin.BinaryImage) []machobin.Symbol) ThreadReport {
	tr := ThreadReport{Index: index, Crashed: mc.IsCrashed}

	cursor.ResetFromContext(mc)
	trueLength := cursor.CountDepth()

	cursor.ResetFromContext(mc)
	if trueLength > overflowThreshold() {
		tr.IsStackOverflow = true
		tr.BacktraceSkipped = trueLength - maxDepth()
	}

	for {
		f, ok := cursor.Next()
		if !ok {
			break
		}
		frame := BacktraceFrame{InstructionAddr: f.Address}
		if img := images.Find(f.Address); img != nil {
			frame.ObjectName = img.Name
			frame.ObjectAddr = img.TextAddr
			if symbolsOf != nil {
				syms := symbolsOf(img)
				if sym, ok := machobin.Nearest(syms, f.Address); ok {
					frame.SymbolName = sym.Name
					frame.SymbolAddr = sym.Addr
				}
			}
		}
		tr.Backtrace = append(tr.Backtrace, frame)
	}

	if mc.IsCrashed {
		tr.Registers = registerMap(mc)
	}
	return tr
}

func registerMap(mc *machctx.MachineContext) map[string]uint64 {
	g := mc.General
	out := make(map[string]uint64, len(g.General))
	for i, v := range g.General {
		out[g.NameAt(i)] = v
	}
	return out
}

func overflowThreshold() int { return 200 }
func maxDepth() int          { return 50 }
