//go:build darwin && amd64

package machkit

/*
#include <mach/mach.h>
#include <mach/thread_act.h>
#include <mach/i386/thread_status.h>
#include <sys/ucontext.h>

static kern_return_t ksmk_get_x86_64_state(thread_act_t thread, x86_thread_state64_t *state) {
	mach_msg_type_number_t count = x86_THREAD_STATE64_COUNT;
	return thread_get_state(thread, x86_THREAD_STATE64, (thread_state_t)state, &count);
}

static x86_thread_state64_t *ksmk_signal_state(void *uctx) {
	return &((ucontext_t *)uctx)->uc_mcontext->__ss;
}
*/
import "C"

import (
	"unsafe"

	"github.com/dispatchrun/kscrash/internal/cpu"
)

// GetContextForSignal fills g from the ucontext_t handed to a POSIX signal
// handler (spec.md §4.3), the x86_64 counterpart of the arm64 version.
func GetContextForSignal(uctx unsafe.Pointer, g *cpu.RegisterFile) {
	state := C.ksmk_signal_state(uctx)
	amd64FromState(g, state)
}

func getContextForThread(handle uint32, g *cpu.RegisterFile) error {
	var state C.x86_thread_state64_t
	if kr := C.ksmk_get_x86_64_state(C.thread_act_t(handle), &state); kr != C.KERN_SUCCESS {
		return &ProbeError{}
	}
	amd64FromState(g, &state)
	return nil
}

func amd64FromState(g *cpu.RegisterFile, state *C.x86_thread_state64_t) {
	g.General[0] = uint64(state.__rax)
	g.General[1] = uint64(state.__rbx)
	g.General[2] = uint64(state.__rcx)
	g.General[3] = uint64(state.__rdx)
	g.General[4] = uint64(state.__rdi)
	g.General[5] = uint64(state.__rsi)
	g.General[6] = uint64(state.__rbp)
	g.General[7] = uint64(state.__rsp)
	g.General[8] = uint64(state.__r8)
	g.General[9] = uint64(state.__r9)
	g.General[10] = uint64(state.__r10)
	g.General[11] = uint64(state.__r11)
	g.General[12] = uint64(state.__r12)
	g.General[13] = uint64(state.__r13)
	g.General[14] = uint64(state.__r14)
	g.General[15] = uint64(state.__r15)
	g.General[16] = uint64(state.__rip)
	g.General[17] = uint64(state.__rflags)
	g.General[18] = uint64(state.__cs)
	g.General[19] = uint64(state.__fs)
	g.General[20] = uint64(state.__gs)
}
