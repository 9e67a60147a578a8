//go:build darwin

package machkit

/*
#include <mach/mach.h>
#include <mach/thread_act.h>
#include <pthread.h>

static kern_return_t ksmk_task_threads(task_t task, thread_act_array_t *list, mach_msg_type_number_t *count) {
	return task_threads(task, list, count);
}

static kern_return_t ksmk_thread_suspend(thread_act_t thread) {
	return thread_suspend(thread);
}

static kern_return_t ksmk_thread_resume(thread_act_t thread) {
	return thread_resume(thread);
}

static thread_act_t ksmk_mach_thread_self(void) {
	return mach_thread_self();
}
*/
import "C"

import "unsafe"

// SuspendEnvironment suspends every thread in the current task except the
// ones listed in reserved (the handling thread itself, and any watchdog or
// listener thread that must keep running), per spec.md §4.2. It returns the
// full snapshot of suspended thread handles so ResumeEnvironment can restore
// exactly what it stopped.
//
// This is called from inside a signal handler or the Mach exception
// listener. It allocates one slice per call for the returned handles;
// callers have no way to pass in a preallocated buffer.
func SuspendEnvironment(reserved []uint32) ([]uint32, error) {
	self := C.task_self_trap()

	var list C.thread_act_array_t
	var count C.mach_msg_type_number_t
	if kr := C.ksmk_task_threads(self, &list, &count); kr != C.KERN_SUCCESS {
		return nil, &ProbeError{}
	}
	defer C.vm_deallocate(self, C.vm_address_t(uintptr(unsafe.Pointer(list))), C.vm_size_t(uintptr(count)*unsafe.Sizeof(C.thread_act_t(0))))

	threads := unsafe.Slice((*C.thread_act_t)(unsafe.Pointer(list)), int(count))
	suspended := make([]uint32, 0, int(count))

	caller := uint32(C.ksmk_mach_thread_self())

outer:
	for _, t := range threads {
		tid := uint32(t)
		if tid == caller {
			continue
		}
		for _, r := range reserved {
			if r == tid {
				continue outer
			}
		}
		if kr := C.ksmk_thread_suspend(t); kr == C.KERN_SUCCESS {
			suspended = append(suspended, tid)
		}
	}
	return suspended, nil
}

// ResumeEnvironment resumes every thread handle previously returned by
// SuspendEnvironment. Threads that no longer exist are silently skipped;
// resuming a dead port is harmless (spec.md §4.2 edge case).
func ResumeEnvironment(suspended []uint32) {
	for _, tid := range suspended {
		C.ksmk_thread_resume(C.thread_act_t(tid))
	}
}

// CurrentThreadHandle returns the Mach thread port of the calling OS thread,
// used by sentries to add themselves to the reserved set before suspending.
func CurrentThreadHandle() uint32 {
	return uint32(C.ksmk_mach_thread_self())
}
