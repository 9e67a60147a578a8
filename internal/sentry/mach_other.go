//go:build !darwin

package sentry

import "github.com/dispatchrun/kscrash/internal/corectx"

// MachSentry is a no-op off Darwin: there is no Mach exception port API to
// hook (spec.md §1 Non-goals).
type MachSentry struct {
	base
}

// NewMachSentry returns a sentry that never enables itself.
func NewMachSentry() *MachSentry {
	return &MachSentry{base: base{id: "mach"}}
}

// Init always fails off Darwin.
func (s *MachSentry) Init(cb corectx.Callbacks) error {
	s.cb = cb
	return errUnsupported
}

// Uninstall is a no-op.
func (s *MachSentry) Uninstall() {}
