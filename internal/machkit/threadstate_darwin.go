//go:build darwin

package machkit

import (
	"github.com/dispatchrun/kscrash/internal/cpu"
	"github.com/dispatchrun/kscrash/internal/machctx"
)

// HostArch reports the architecture thread_get_state should decode for the
// current host, chosen once at Install time.
func HostArch() cpu.Arch {
	return hostArch
}

var hostArch = detectHostArch()

// GetContextForThread fills mc in-place from a live, already-suspended Mach
// thread's register state (spec.md §4.3, "reading a stopped thread"). The
// actual thread_get_state flavor is architecture-specific and lives in
// threadstate_darwin_arm64.go / threadstate_darwin_amd64.go, since Apple's
// mach/<arch>/thread_status.h headers are only safe to include for the
// architecture cgo is currently compiling for.
func GetContextForThread(handle uint32, mc *machctx.MachineContext) error {
	if mc.Arch != hostArch {
		return &ProbeError{}
	}
	return getContextForThread(handle, mc.General)
}
