// Package report assembles the on-disk crash report document described in
// spec.md §4.8: a single JSON object covering report metadata, system state,
// per-thread backtraces, normalized error info, and the binary-image list.
package report

import (
	"github.com/dispatchrun/kscrash/internal/corectx"
	"github.com/dispatchrun/kscrash/internal/jsonenc"
	"github.com/dispatchrun/kscrash/internal/machobin"
	"github.com/dispatchrun/kscrash/internal/sentry"
)

// ReportVersionMajor and ReportVersionMinor are the schema version emitted
// in every report (spec.md §4.8: "Report version 1.0").
const (
	ReportVersionMajor = 1
	ReportVersionMinor = 0
)

// ThreadReport is one entry of the crash.threads array (spec.md §4.3):
// a resolved backtrace plus the register banks for the crashing thread.
type ThreadReport struct {
	Index            int
	Name             string
	DispatchQueue    string
	Crashed          bool
	IsStackOverflow  bool
	BacktraceSkipped int
	Backtrace        []BacktraceFrame
	Registers        map[string]uint64
	ExceptionRegs    map[string]uint64
}

// BacktraceFrame is one stack frame in the report's wire format (spec.md
// §9: "{object_name, object_addr, symbol_name, symbol_addr,
// instruction_addr}").
type BacktraceFrame struct {
	ObjectName      string
	ObjectAddr      uint64
	SymbolName      string
	SymbolAddr      uint64
	InstructionAddr uint64
}

// ErrorInfo is the crash.error object, normalized across Mach/signal/
// language/user exception classes (spec.md §4.8 and §GLOSSARY).
type ErrorInfo struct {
	Type        string
	Address     uint64
	MachType    int32 // the real exception type for class "mach", the reverse-mapped one otherwise
	MachCode    int64
	MachSubcode int64
	Signal      int32 // the real signal for class "signal", the derived one otherwise
	SignalCode  int32
	NSExceptionName   string
	NSExceptionReason string
	UserReason  string
}

// Writer streams a report document through a jsonenc.Encoder. It implements
// corectx.ReportWriter so monitors can add their own sections without
// depending on this package's concrete type.
type Writer struct {
	enc *jsonenc.Encoder
}

// NewWriter wraps enc.
func NewWriter(enc *jsonenc.Encoder) *Writer {
	return &Writer{enc: enc}
}

func (w *Writer) BeginObject(name string)       { w.enc.BeginObject(name) }
func (w *Writer) EndContainer()                 { w.enc.EndContainer() }
func (w *Writer) AddString(name, value string)  { w.enc.AddString(name, value) }
func (w *Writer) AddUInt(name string, v uint64)  { w.enc.AddUInt(name, v) }
func (w *Writer) AddBool(name string, v bool)    { w.enc.AddBool(name, v) }

var _ corectx.ReportWriter = (*Writer)(nil)

// Document holds everything WriteReport needs beyond what monitors
// contribute through the corectx.ReportWriter interface: the pre-baked
// system/user JSON blobs and the crash-specific data the sentries captured.
type Document struct {
	CrashID    [16]byte
	Timestamp  int64
	SystemJSON []byte // pre-baked at Install time, embedded verbatim
	SystemAtCrashJSON []byte
	UserJSON   []byte // optional, nil if none configured

	Threads       []ThreadReport
	Error         ErrorInfo
	BinaryImages  []*machobin.BinaryImage
}

// WriteReport emits the full top-level report object (spec.md §4.8).
func (w *Writer) WriteReport(doc *Document, monitorSections func(corectx.ReportWriter)) {
	w.enc.BeginObject("")
	w.enc.AddUInt("report_version_major", ReportVersionMajor)
	w.enc.AddUInt("report_version_minor", ReportVersionMinor)
	w.enc.AddUUID("crash_id", doc.CrashID)
	w.enc.AddInt("timestamp", doc.Timestamp)

	if len(doc.SystemJSON) > 0 {
		w.enc.AddJSONElement("system", doc.SystemJSON, false)
	}
	if len(doc.SystemAtCrashJSON) > 0 {
		w.enc.AddJSONElement("system_atcrash", doc.SystemAtCrashJSON, false)
	}

	w.enc.BeginObject("crash")
	w.writeThreads(doc.Threads)
	w.writeError(doc.Error)
	w.writeBinaryImages(doc.BinaryImages)
	if monitorSections != nil {
		monitorSections(w)
	}
	w.enc.EndContainer() // crash

	if len(doc.UserJSON) > 0 {
		w.enc.AddJSONElement("user", doc.UserJSON, false)
	}

	w.enc.EndContainer() // top-level
}

func (w *Writer) writeThreads(threads []ThreadReport) {
	w.enc.BeginArray("threads")
	for _, t := range threads {
		w.enc.BeginObject("")
		w.enc.AddInt("index", int64(t.Index))
		if t.Name != "" {
			w.enc.AddString("name", t.Name)
		}
		if t.DispatchQueue != "" {
			w.enc.AddString("dispatch_queue", t.DispatchQueue)
		}
		w.enc.AddBool("crashed", t.Crashed)
		if t.IsStackOverflow {
			w.enc.AddBool("stack_overflow", true)
		}
		if t.BacktraceSkipped > 0 {
			w.enc.AddInt("backtrace_skipped", int64(t.BacktraceSkipped))
		}

		w.enc.BeginArray("backtrace")
		for _, f := range t.Backtrace {
			w.enc.BeginObject("")
			w.enc.AddString("object_name", f.ObjectName)
			w.enc.AddUInt("object_addr", f.ObjectAddr)
			if f.SymbolName != "" {
				w.enc.AddString("symbol_name", f.SymbolName)
				w.enc.AddUInt("symbol_addr", f.SymbolAddr)
			}
			w.enc.AddUInt("instruction_addr", f.InstructionAddr)
			w.enc.EndContainer()
		}
		w.enc.EndContainer() // backtrace

		if t.Crashed && len(t.Registers) > 0 {
			w.writeRegisterMap("registers", t.Registers)
		}
		if t.Crashed && len(t.ExceptionRegs) > 0 {
			w.writeRegisterMap("exception_registers", t.ExceptionRegs)
		}

		w.enc.EndContainer() // thread
	}
	w.enc.EndContainer() // threads
}

func (w *Writer) writeRegisterMap(name string, regs map[string]uint64) {
	w.enc.BeginObject(name)
	for k, v := range regs {
		w.enc.AddUInt(k, v)
	}
	w.enc.EndContainer()
}

// writeError emits the crash.error object. Per spec.md §4.8, Mach, signal,
// and language (nsexception) all also carry each other's symbolic fields —
// a derived signal for Mach, a reverse-mapped mach_exception for signal, and
// the synthesized EXC_CRASH/SIGABRT pair for language exceptions — on top of
// their own class-specific fields.
func (w *Writer) writeError(e ErrorInfo) {
	w.enc.BeginObject("error")
	w.enc.AddString("type", e.Type)
	if e.Address != 0 {
		w.enc.AddUInt("address", e.Address)
	}

	switch e.Type {
	case "mach":
		w.enc.AddString("mach_exception", sentry.MachExceptionName(e.MachType))
		w.enc.AddInt("mach_code", e.MachCode)
		w.enc.AddString("mach_code_name", MachCodeName(e.MachCode))
		w.enc.AddInt("mach_subcode", e.MachSubcode)
	case "signal":
		w.enc.AddString("mach_exception", sentry.MachExceptionName(e.MachType))
	case "nsexception":
		w.enc.AddString("mach_exception", sentry.MachExceptionName(e.MachType))
		w.enc.AddString("name", e.NSExceptionName)
		w.enc.AddString("reason", e.NSExceptionReason)
	}

	switch e.Type {
	case "mach", "signal", "nsexception":
		w.enc.AddInt("signal", int64(e.Signal))
		w.enc.AddString("signal_name", sentry.SignalName(e.Signal))
		w.enc.AddInt("signal_code", int64(e.SignalCode))
		w.enc.AddString("signal_code_name", sentry.SignalCodeName(e.Signal, e.SignalCode))
	case "user":
		w.enc.AddString("reason", e.UserReason)
	}

	w.enc.EndContainer()
}

func (w *Writer) writeBinaryImages(images []*machobin.BinaryImage) {
	w.enc.BeginArray("binary_images")
	for _, img := range images {
		w.enc.BeginObject("")
		w.enc.AddString("name", img.Name)
		w.enc.AddUInt("image_addr", img.TextAddr)
		w.enc.AddUInt("image_size", img.TextSize)
		w.enc.AddUUID("uuid", img.UUID)
		w.enc.EndContainer()
	}
	w.enc.EndContainer()
}
