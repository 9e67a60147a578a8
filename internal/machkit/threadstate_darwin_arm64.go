//go:build darwin && arm64

package machkit

/*
#include <mach/mach.h>
#include <mach/thread_act.h>
#include <mach/arm/thread_status.h>
#include <sys/ucontext.h>

static kern_return_t ksmk_get_arm64_state(thread_act_t thread, arm_thread_state64_t *state) {
	mach_msg_type_number_t count = ARM_THREAD_STATE64_COUNT;
	return thread_get_state(thread, ARM_THREAD_STATE64, (thread_state_t)state, &count);
}

static arm_thread_state64_t *ksmk_signal_state(void *uctx) {
	return &((ucontext_t *)uctx)->uc_mcontext->__ss;
}
*/
import "C"

import (
	"unsafe"

	"github.com/dispatchrun/kscrash/internal/cpu"
)

// GetContextForSignal fills g from the ucontext_t handed to a POSIX signal
// handler, the async-signal-safe counterpart to GetContextForThread used by
// the signal sentry (spec.md §4.3): the crashing thread can't suspend itself,
// so its registers come from the kernel-filled sigcontext instead.
func GetContextForSignal(uctx unsafe.Pointer, g *cpu.RegisterFile) {
	state := C.ksmk_signal_state(uctx)
	arm64FromState(g, state)
}

func getContextForThread(handle uint32, g *cpu.RegisterFile) error {
	var state C.arm_thread_state64_t
	if kr := C.ksmk_get_arm64_state(C.thread_act_t(handle), &state); kr != C.KERN_SUCCESS {
		return &ProbeError{}
	}
	arm64FromState(g, &state)
	return nil
}

func arm64FromState(g *cpu.RegisterFile, state *C.arm_thread_state64_t) {
	for i := 0; i < 29; i++ {
		g.General[i] = uint64(state.__x[i])
	}
	g.General[29] = uint64(uintptr(state.__fp))
	g.General[30] = uint64(uintptr(state.__lr))
	g.General[31] = uint64(uintptr(state.__sp))
	g.General[32] = uint64(uintptr(state.__pc))
	g.General[33] = uint64(state.__cpsr)
}
