//go:build !darwin

package machkit

// TaskProbe is a no-op stand-in on non-Darwin hosts: this module's capture
// pipeline is intrinsically tied to Mach and Mach-O (spec.md §1 Non-goals),
// so there is nothing useful a cross-thread memory probe could do here. It
// exists purely so the rest of the tree type-checks and can be unit tested
// on any GOOS for the parts that don't require a live kernel task port.
type TaskProbe struct{}

// NewSelfProbe returns a Prober that always reports addresses as unreadable.
func NewSelfProbe() *TaskProbe { return &TaskProbe{} }

func (p *TaskProbe) ReadInto(dst []byte, addr uint64) error {
	return &ProbeError{Address: addr}
}

func (p *TaskProbe) ReadUint64(addr uint64) (uint64, error) { return 0, &ProbeError{Address: addr} }
func (p *TaskProbe) ReadUint32(addr uint64) (uint32, error) { return 0, &ProbeError{Address: addr} }

var _ Prober = (*TaskProbe)(nil)
