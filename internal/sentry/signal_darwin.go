//go:build darwin

package sentry

/*
#include <signal.h>
#include <string.h>
#include <stdlib.h>
#include <stdint.h>

// ksmk_handling_guard is the sig_atomic_t re-entrancy guard: a signal that
// arrives while another is being handled returns at once, without logging.
// The guard is cleared again when the Go handler returns.
static volatile sig_atomic_t ksmk_handling_guard = 0;

extern void ksmkGoSignalHandler(int signo, siginfo_t *info, void *uctx);

static void ksmk_c_handler(int signo, siginfo_t *info, void *uctx) {
	if (ksmk_handling_guard) {
		return;
	}
	ksmk_handling_guard = 1;
	ksmkGoSignalHandler(signo, info, uctx);
	ksmk_handling_guard = 0;
	// Chain to the default disposition and re-raise so the OS-level crash
	// log / debugger still sees the original fault (spec.md §4.1: "raise(signo)
	// to chain").
	signal(signo, SIG_DFL);
	raise(signo);
}

static int ksmk_fatal_signals[] = {SIGILL, SIGTRAP, SIGABRT, SIGBUS, SIGFPE, SIGSEGV, SIGPIPE};
static const int ksmk_fatal_signal_count = 7;

static int ksmk_install_one(int signo, stack_t *altstack) {
	struct sigaction sa;
	memset(&sa, 0, sizeof(sa));
	sa.sa_sigaction = ksmk_c_handler;
	sa.sa_flags = SA_SIGINFO | SA_ONSTACK;
	sigemptyset(&sa.sa_mask);
	return sigaction(signo, &sa, NULL);
}

static int ksmk_install_all(int includeTerm) {
	static stack_t altstack;
	altstack.ss_sp = malloc(SIGSTKSZ);
	if (altstack.ss_sp == NULL) return -1;
	altstack.ss_size = SIGSTKSZ;
	altstack.ss_flags = 0;
	if (sigaltstack(&altstack, NULL) != 0) return -1;

	for (int i = 0; i < ksmk_fatal_signal_count; i++) {
		if (ksmk_install_one(ksmk_fatal_signals[i], &altstack) != 0) return -1;
	}
	if (includeTerm) {
		if (ksmk_install_one(SIGTERM, &altstack) != 0) return -1;
	}
	return 0;
}

static void ksmk_uninstall_all(int includeTerm) {
	for (int i = 0; i < ksmk_fatal_signal_count; i++) {
		signal(ksmk_fatal_signals[i], SIG_DFL);
	}
	if (includeTerm) {
		signal(SIGTERM, SIG_DFL);
	}
}
*/
import "C"

import (
	"errors"
	"sync/atomic"
	"unsafe"

	"github.com/dispatchrun/kscrash/internal/corectx"
	"github.com/dispatchrun/kscrash/internal/machctx"
	"github.com/dispatchrun/kscrash/internal/machkit"
)

var errSignalInstall = errors.New("sentry: sigaction install failed")

// SignalSentry installs the POSIX signal handler described in spec.md
// §4.1: an alternate-stack sigaction over every fatal signal, re-entrancy
// guarded and chaining to the default disposition once handled.
type SignalSentry struct {
	base
	includeTerm bool
}

var activeSignalSentry atomic.Pointer[SignalSentry]

// NewSignalSentry returns an uninstalled signal sentry. includeTerm mirrors
// spec.md §4.1's "and optionally SIGTERM".
func NewSignalSentry(includeTerm bool) *SignalSentry {
	return &SignalSentry{base: base{id: "signal", flags: corectx.FlagFatal}, includeTerm: includeTerm}
}

// Init allocates the alternate signal stack and installs the handlers.
func (s *SignalSentry) Init(cb corectx.Callbacks) error {
	s.cb = cb
	activeSignalSentry.Store(s)

	include := C.int(0)
	if s.includeTerm {
		include = 1
	}
	if C.ksmk_install_all(include) != 0 {
		return errSignalInstall
	}
	s.SetEnabled(true)
	return nil
}

// Uninstall restores the default disposition for every signal this sentry
// installed a handler for (spec.md §4.1's uninstall symmetry requirement).
func (s *SignalSentry) Uninstall() {
	if !s.Enabled() {
		return
	}
	s.SetEnabled(false)
	include := C.int(0)
	if s.includeTerm {
		include = 1
	}
	C.ksmk_uninstall_all(include)
}

//export ksmkGoSignalHandler
func ksmkGoSignalHandler(signo C.int, info *C.siginfo_t, uctxPtr unsafe.Pointer) {
	s := activeSignalSentry.Load()
	if s == nil || !s.Enabled() {
		return
	}
	s.handle(int32(signo), uctxPtr)
}

func (s *SignalSentry) handle(signo int32, uctxPtr unsafe.Pointer) {
	self := machkit.CurrentThreadHandle()
	suspended, _ := machkit.SuspendEnvironment([]uint32{self})
	defer machkit.ResumeEnvironment(suspended)

	ctx := s.cb.Notify(uint64(self), corectx.RequiresAsyncSafety|corectx.ShouldRecordThreads|corectx.ShouldWriteReport|corectx.IsFatal|corectx.ShouldExitImmediately)
	if ctx == nil {
		return
	}

	ctx.Class = corectx.ClassSignal
	ctx.Signal = corectx.SignalSpecific{Signo: signo, Code: 0}
	ctx.Mach = corectx.MachSpecific{ExceptionType: DerivedMachException(signo)}

	mc := machctx.NewForArch(machkit.HostArch())
	mc.IsCrashed = true
	machkit.GetContextForSignal(uctxPtr, mc.General)
	ctx.Crashed = mc
	ctx.FaultAddress = mc.PC()

	s.cb.Handle(ctx)
}
