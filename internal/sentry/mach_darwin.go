//go:build darwin

package sentry

/*
#include <mach/mach.h>
#include <mach/mach_error.h>
#include <mach/exception_types.h>
#include <pthread.h>
#include <stdlib.h>
#include <string.h>

#define KSMK_EXC_MASK (EXC_MASK_BAD_ACCESS | EXC_MASK_BAD_INSTRUCTION | \
	EXC_MASK_ARITHMETIC | EXC_MASK_SOFTWARE | EXC_MASK_BREAKPOINT)

// Saved original exception ports, restored atomically on uninstall, mirroring
// task_get_exception_ports/task_set_exception_ports pairing (spec.md §4.1).
static mach_msg_type_number_t ksmk_saved_count;
static exception_mask_t       ksmk_saved_masks[EXC_TYPES_COUNT];
static exception_port_t       ksmk_saved_ports[EXC_TYPES_COUNT];
static exception_behavior_t   ksmk_saved_behaviors[EXC_TYPES_COUNT];
static thread_state_flavor_t  ksmk_saved_flavors[EXC_TYPES_COUNT];

static mach_port_t ksmk_exception_port;

static kern_return_t ksmk_install_handler(void) {
	kern_return_t kr;

	kr = mach_port_allocate(mach_task_self(), MACH_PORT_RIGHT_RECEIVE, &ksmk_exception_port);
	if (kr != KERN_SUCCESS) return kr;

	kr = mach_port_insert_right(mach_task_self(), ksmk_exception_port, ksmk_exception_port, MACH_MSG_TYPE_MAKE_SEND);
	if (kr != KERN_SUCCESS) return kr;

	ksmk_saved_count = EXC_TYPES_COUNT;
	kr = task_get_exception_ports(mach_task_self(), KSMK_EXC_MASK, ksmk_saved_masks,
		&ksmk_saved_count, ksmk_saved_ports, ksmk_saved_behaviors, ksmk_saved_flavors);
	if (kr != KERN_SUCCESS) return kr;

	return task_set_exception_ports(mach_task_self(), KSMK_EXC_MASK, ksmk_exception_port,
		EXCEPTION_DEFAULT, THREAD_STATE_NONE);
}

static void ksmk_uninstall_handler(void) {
	for (mach_msg_type_number_t i = 0; i < ksmk_saved_count; i++) {
		task_set_exception_ports(mach_task_self(), ksmk_saved_masks[i], ksmk_saved_ports[i],
			ksmk_saved_behaviors[i], ksmk_saved_flavors[i]);
	}
	mach_port_deallocate(mach_task_self(), ksmk_exception_port);
}

// Minimal wire-format mirror of exception_raise's request/reply messages,
// just the fields the listener loop needs (thread port, exception type, and
// up to two codes) without linking against MiG-generated stubs.
typedef struct {
	mach_msg_header_t head;
	NDR_record_t ndr;
	exception_type_t exception;
	mach_msg_type_number_t codeCnt;
	integer_t code[2];
	mach_msg_trailer_t trailer;
} ksmk_exc_msg_t;

typedef struct {
	mach_msg_header_t head;
	NDR_record_t ndr;
	kern_return_t ret_code;
} ksmk_exc_reply_t;

// ksmk_receive blocks for one exception message, filling out params by
// value. The caller is the listener goroutine, locked to its OS thread and
// looping here for as long as the sentry is installed (spec.md §5
// "dedicated listener thread").
static kern_return_t ksmk_receive(mach_port_t *thread, exception_type_t *exc, int64_t *code0, int64_t *code1) {
	ksmk_exc_msg_t request;
	memset(&request, 0, sizeof(request));
	request.head.msgh_local_port = ksmk_exception_port;
	request.head.msgh_size = sizeof(request);

	kern_return_t kr = mach_msg(&request.head, MACH_RCV_MSG | MACH_RCV_LARGE, 0,
		sizeof(request), ksmk_exception_port, MACH_MSG_TIMEOUT_NONE, MACH_PORT_NULL);
	if (kr != KERN_SUCCESS) return kr;

	*thread = request.head.msgh_remote_port;
	*exc = request.exception;
	*code0 = request.codeCnt > 0 ? request.code[0] : 0;
	*code1 = request.codeCnt > 1 ? request.code[1] : 0;

	ksmk_exc_reply_t reply;
	memset(&reply, 0, sizeof(reply));
	reply.head.msgh_bits = MACH_MSGH_BITS(MACH_MSGH_BITS_REMOTE(request.head.msgh_bits), 0);
	reply.head.msgh_remote_port = request.head.msgh_remote_port;
	reply.head.msgh_local_port = MACH_PORT_NULL;
	reply.head.msgh_size = sizeof(reply);
	reply.head.msgh_id = request.head.msgh_id + 100;
	reply.ndr = request.ndr;
	// KERN_FAILURE tells the kernel our handler declined, so the saved
	// original handler (or the default crash/report mechanism) also runs,
	// per spec.md §4.1 "reply with KERN_FAILURE so the original handler
	// also runs".
	reply.ret_code = KERN_FAILURE;

	mach_msg(&reply.head, MACH_SEND_MSG, sizeof(reply), 0, MACH_PORT_NULL, MACH_MSG_TIMEOUT_NONE, MACH_PORT_NULL);
	return KERN_SUCCESS;
}
*/
import "C"

import (
	"runtime"
	"sync/atomic"

	"github.com/dispatchrun/kscrash/internal/corectx"
	"github.com/dispatchrun/kscrash/internal/machctx"
	"github.com/dispatchrun/kscrash/internal/machkit"
)

// MachSentry installs the Mach exception port handler described in
// spec.md §4.1 and runs its listener on a dedicated, locked OS thread.
type MachSentry struct {
	base
	running    atomic.Bool
	reserved   []uint32
	listenerID uint32
}

// NewMachSentry returns an uninstalled Mach exception sentry.
func NewMachSentry() *MachSentry {
	return &MachSentry{base: base{id: "mach", flags: corectx.FlagFatal}}
}

// Init installs the exception port and spawns the listener goroutine. It
// refuses to install if a debugger is already attached (spec.md §4.1: "if a
// debugger is attached, refuse"), detected the same way the signal sentry
// would notice one: P_TRACED in the process's own kinfo_proc, checked by
// the caller before Init (this port keeps that check in kscrash.Install so
// every sentry shares one code path).
func (s *MachSentry) Init(cb corectx.Callbacks) error {
	s.cb = cb
	if kr := C.ksmk_install_handler(); kr != C.KERN_SUCCESS {
		return &machInstallError{kr: int32(kr)}
	}
	s.running.Store(true)
	go s.listen()
	s.SetEnabled(true)
	return nil
}

// Uninstall restores the previously-saved exception ports (spec.md §4.1:
// "Uninstall restores saved ports atomically").
func (s *MachSentry) Uninstall() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	C.ksmk_uninstall_handler()
}

func (s *MachSentry) listen() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	s.listenerID = machkit.CurrentThreadHandle()

	for s.running.Load() {
		var thread C.mach_port_t
		var exc C.exception_type_t
		var code0, code1 C.int64_t

		if kr := C.ksmk_receive(&thread, &exc, &code0, &code1); kr != C.KERN_SUCCESS {
			continue
		}
		if !s.Enabled() {
			continue
		}
		s.handleException(uint32(thread), int32(exc), int64(code0), int64(code1))
	}
}

func (s *MachSentry) handleException(threadPort uint32, excType int32, code0, code1 int64) {
	reserved := append(s.reserved[:0], s.listenerID)
	suspended, _ := machkit.SuspendEnvironment(reserved)
	defer machkit.ResumeEnvironment(suspended)

	ctx := s.cb.Notify(uint64(threadPort), corectx.RequiresAsyncSafety|corectx.ShouldRecordThreads|corectx.ShouldWriteReport|corectx.IsFatal)
	if ctx == nil {
		return
	}

	ctx.Class = corectx.ClassMach
	ctx.Mach = corectx.MachSpecific{ExceptionType: excType, Code: code0, Subcode: code1}
	ctx.FaultAddress = uint64(code1)

	mc := machctx.NewForArch(machkit.HostArch())
	mc.IsCrashed = true
	if err := machkit.GetContextForThread(threadPort, mc); err == nil {
		ctx.Crashed = mc
	}

	s.cb.Handle(ctx)
}

type machInstallError struct{ kr int32 }

func (e *machInstallError) Error() string { return "sentry: mach_set_exception_ports failed" }
