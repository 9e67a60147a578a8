//go:build darwin

package machkit

/*
#include <mach/mach.h>
#include <mach/mach_vm.h>
#include <string.h>

// ksmk_read_overwrite copies len bytes from address src in task task into
// dst, using vm_read_overwrite so that an unmapped or otherwise faulting
// source address returns a non-KERN_SUCCESS code instead of crashing the
// calling (host, Go-owned) thread. This is the exact primitive spec.md §4.4
// and §9 require of the "safe memory probe".
static kern_return_t ksmk_read_overwrite(vm_map_t task, mach_vm_address_t src, mach_vm_size_t len, void *dst) {
	mach_vm_size_t outSize = 0;
	kern_return_t kr = mach_vm_read_overwrite(task, src, len, (mach_vm_address_t)dst, &outSize);
	if (kr == KERN_SUCCESS && outSize != len) {
		return KERN_FAILURE;
	}
	return kr;
}
*/
import "C"

import "unsafe"

// TaskProbe reads memory belonging to a single Mach task (almost always
// mach_task_self() for this process) via vm_read_overwrite.
type TaskProbe struct {
	task C.vm_map_t
}

// NewSelfProbe returns a Prober over the current process's own task port,
// the configuration every sentry in this module uses.
func NewSelfProbe() *TaskProbe {
	return &TaskProbe{task: C.mach_task_self_}
}

func (p *TaskProbe) ReadInto(dst []byte, addr uint64) error {
	if len(dst) == 0 {
		return nil
	}
	kr := C.ksmk_read_overwrite(p.task, C.mach_vm_address_t(addr), C.mach_vm_size_t(len(dst)), unsafe.Pointer(&dst[0]))
	if kr != C.KERN_SUCCESS {
		return &ProbeError{Address: addr}
	}
	return nil
}

func (p *TaskProbe) ReadUint64(addr uint64) (uint64, error) { return readUint64Generic(p, addr) }
func (p *TaskProbe) ReadUint32(addr uint64) (uint32, error) { return readUint32Generic(p, addr) }

var _ Prober = (*TaskProbe)(nil)
