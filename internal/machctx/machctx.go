// Package machctx materializes a thread's full register state into the
// MachineContext record described in spec.md §3 and §4.3. Filling a context
// from a live thread or a signal's ucontext_t is platform-specific and lives
// in internal/machkit; this package only owns the data shape and the
// snapshot of suspended thread handles.
package machctx

import "github.com/dispatchrun/kscrash/internal/cpu"

// FloatingPoint holds the subset of the floating-point/vector register bank
// the report writer cares about: just enough raw 64-bit lanes to dump as
// JSON integers, matching the spec's "three register banks" without trying
// to model every vector width per architecture.
type FloatingPoint struct {
	Lanes []uint64
	Names []string
}

// ThreadHandle is an opaque, platform-specific handle to a suspended Mach
// thread port. On non-Darwin builds it is always the zero value.
type ThreadHandle uint32

// MachineContext is a thread identifier, the register banks for the target
// architecture, and a flag indicating whether it represents the crashing
// thread (spec.md §3). It also has a field for the snapshot of suspended
// thread handles (see SuspendedThreads).
//
// Instances are created on the sentry's stack (i.e. preallocated once and
// reused, in this Go port) and never shared across goroutines without
// external synchronization.
type MachineContext struct {
	ThreadID  uint64
	Arch      cpu.Arch
	General   *cpu.RegisterFile
	FP        FloatingPoint
	IsCrashed bool

	// SuspendedThreads has room for the suspended-thread snapshot. The
	// sentries keep the list returned by machkit.SuspendEnvironment in a
	// local variable and never store it here, so it stays empty.
	SuspendedThreads []ThreadHandle
}

// Accessors returns the per-architecture register accessor table for the
// context's Arch, or the zero Accessors if Arch is unrecognized.
func (m *MachineContext) Accessors() cpu.Accessors {
	switch m.Arch {
	case cpu.ArchARM64:
		return cpu.ARM64
	case cpu.ArchX86_64:
		return cpu.X86_64
	case cpu.ArchARM:
		return cpu.ARM
	case cpu.ArchX86:
		return cpu.X86
	default:
		return cpu.Accessors{}
	}
}

// PC, SP, FP, LR are convenience wrappers over Accessors for unwinder and
// report-writer code that doesn't want to thread the Accessors value around.
func (m *MachineContext) PC() uint64 { return m.Accessors().PC(m.General) }
func (m *MachineContext) SP() uint64 { return m.Accessors().SP(m.General) }
func (m *MachineContext) FPReg() uint64 { return m.Accessors().FP(m.General) }
func (m *MachineContext) LR() uint64 {
	a := m.Accessors()
	if !a.HasLR {
		return 0
	}
	return a.LR(m.General)
}

// NewForArch preallocates a MachineContext with register banks sized for
// arch, ready to be filled in-place by internal/machkit on every event
// without further allocation.
func NewForArch(arch cpu.Arch) *MachineContext {
	mc := &MachineContext{Arch: arch}
	switch arch {
	case cpu.ArchARM64:
		mc.General = cpu.NewARM64RegisterFile()
	case cpu.ArchX86_64:
		mc.General = cpu.NewAMD64RegisterFile()
	case cpu.ArchARM:
		mc.General = cpu.NewARMRegisterFile()
	case cpu.ArchX86:
		mc.General = cpu.NewX86RegisterFile()
	default:
		mc.General = &cpu.RegisterFile{Arch: arch}
	}
	return mc
}
