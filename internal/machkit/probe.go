// Package machkit wraps the Darwin/XNU kernel primitives the capture
// pipeline depends on: cross-thread memory probing (spec.md §4.4 "Safe
// memory access"), thread suspension (§4.2), and per-thread register-state
// fetch (§4.3). Everything that actually calls into the kernel is isolated
// behind a build tag so the rest of the module stays buildable (with
// reduced functionality) on non-Darwin hosts for development and testing.
package machkit

import "errors"

// ProbeError is returned by Probe when a cross-thread memory read could not
// be performed safely. It deliberately carries no information beyond "this
// address was not readable" to keep the probe itself allocation-free.
type ProbeError struct {
	Address uint64
}

func (e *ProbeError) Error() string {
	return "machkit: unsafe read at address"
}

var errUnsupportedPlatform = errors.New("machkit: unsupported platform")

// Prober performs cross-thread memory reads that never fault the calling
// thread, per spec.md §4.4 and §9 ("wrap in a safe-probe abstraction").
// Implementations use vm_read_overwrite (or equivalent) so a bad pointer
// yields an error instead of a second crash.
type Prober interface {
	// ReadInto copies len(dst) bytes from address addr of the target task
	// into dst. It returns a *ProbeError (never panics) on failure.
	ReadInto(dst []byte, addr uint64) error
	// ReadUint64 is a convenience wrapper for the common 8-byte read used
	// throughout the unwinder.
	ReadUint64(addr uint64) (uint64, error)
	// ReadUint32 is the 4-byte counterpart, used by the Mach-O walker.
	ReadUint32(addr uint64) (uint32, error)
}

// readUint64Generic and readUint32Generic let every Prober implementation
// share the same decode-after-ReadInto logic.
func readUint64Generic(p Prober, addr uint64) (uint64, error) {
	var buf [8]byte
	if err := p.ReadInto(buf[:], addr); err != nil {
		return 0, err
	}
	return uint64(buf[0]) | uint64(buf[1])<<8 | uint64(buf[2])<<16 | uint64(buf[3])<<24 |
		uint64(buf[4])<<32 | uint64(buf[5])<<40 | uint64(buf[6])<<48 | uint64(buf[7])<<56, nil
}

func readUint32Generic(p Prober, addr uint64) (uint32, error) {
	var buf [4]byte
	if err := p.ReadInto(buf[:], addr); err != nil {
		return 0, err
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}
