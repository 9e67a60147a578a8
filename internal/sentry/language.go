package sentry

import (
	"fmt"
	"runtime"

	"github.com/dispatchrun/kscrash/internal/corectx"
)

// LanguageSentry is the language-level exception sentry (spec.md §4.1's
// "language-level handlers" class, generalized from NSException/C++
// exceptions to this host's actual language runtime: Go panics). Unlike the
// Mach and signal sentries it has no kernel hook to install — a Go panic is
// already delivered synchronously on the panicking goroutine's stack, so
// "installing" this sentry means exposing Protect/ProtectGoroutine wrappers the
// caller places around goroutine entry points, mirroring the teacher
// corpus's recover-and-log idiom (see internal/sentry's grounding notes).
type LanguageSentry struct {
	base
}

// NewLanguageSentry returns a language sentry that enables itself in Init;
// Init cannot fail since no OS resource is acquired.
func NewLanguageSentry() *LanguageSentry {
	return &LanguageSentry{base: base{id: "language", flags: corectx.FlagFatal}}
}

func (s *LanguageSentry) Init(cb corectx.Callbacks) error {
	s.cb = cb
	s.SetEnabled(true)
	return nil
}

// Uninstall disables the sentry; Protect/ProtectGoroutine calls already in
// flight still recover the panic, they just re-panic without reporting.
func (s *LanguageSentry) Uninstall() {
	s.SetEnabled(false)
}

// Protect wraps fn with panic recovery that funnels into the shared
// Notify/Handle pipeline before re-panicking, so a crash triggered from Go
// code produces the same report shape as a Mach or signal-level fault.
// Call it around main() and around every goroutine entry point the caller
// wants covered (spec.md §2's control flow applies unchanged: sentry ->
// notify -> monitor context -> handle -> re-raise).
func (s *LanguageSentry) Protect(fn func()) {
	defer s.recoverAndReraise()
	fn()
}

// ProtectGoroutine is the `go`-friendly form: `go sentry.ProtectGoroutine(name, fn)`.
func (s *LanguageSentry) ProtectGoroutine(name string, fn func()) {
	defer s.recoverAndReraise()
	fn()
}

func (s *LanguageSentry) recoverAndReraise() {
	r := recover()
	if r == nil {
		return
	}
	if !s.Enabled() {
		panic(r)
	}

	pcs := make([]uintptr, 64)
	n := runtime.Callers(3, pcs)
	pcs = pcs[:n]

	ctx := s.cb.Notify(uint64(goroutineID()), corectx.ShouldRecordThreads|corectx.ShouldWriteReport|corectx.IsFatal)
	if ctx != nil {
		ctx.Class = corectx.ClassNSException
		ctx.Language = corectx.LanguageSpecific{
			Name:              "runtime.Error",
			Reason:            fmt.Sprintf("%v", r),
			PrebakedBacktrace: pcs,
		}
		s.cb.Handle(ctx)
	}

	panic(r)
}

// goroutineID is a best-effort, non-authoritative identifier used only to
// populate MonitorContext.OffendingTID when there is no OS thread handle to
// report (Go panics aren't tied to a Mach thread port). It is never parsed
// from runtime internals; 0 is an acceptable placeholder since the report
// writer treats thread identity as informational for this exception class.
func goroutineID() uint64 { return 0 }
