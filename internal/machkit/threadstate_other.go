//go:build !darwin

package machkit

import (
	"unsafe"

	"github.com/dispatchrun/kscrash/internal/cpu"
	"github.com/dispatchrun/kscrash/internal/machctx"
)

// HostArch reports cpu.ArchUnknown off Darwin.
func HostArch() cpu.Arch { return cpu.ArchUnknown }

// GetContextForThread always fails off Darwin: there is no thread_get_state
// equivalent this module targets (spec.md §1 Non-goals).
func GetContextForThread(handle uint32, mc *machctx.MachineContext) error {
	return &ProbeError{}
}

// GetContextForSignal is a no-op off Darwin.
func GetContextForSignal(uctx unsafe.Pointer, g *cpu.RegisterFile) {}
