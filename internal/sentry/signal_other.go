//go:build !darwin

package sentry

import "github.com/dispatchrun/kscrash/internal/corectx"

// SignalSentry is a no-op off Darwin: sigaltstack/sigaction are available
// on most POSIX systems, but this port's Non-goals (spec.md §1) scope the
// whole capture pipeline to Darwin/XNU, so the stub keeps the tree
// buildable without pretending to support a platform the unwinder and
// Mach-O introspector can't actually serve.
type SignalSentry struct {
	base
	includeTerm bool
}

// NewSignalSentry returns a sentry that never enables itself.
func NewSignalSentry(includeTerm bool) *SignalSentry {
	return &SignalSentry{base: base{id: "signal"}, includeTerm: includeTerm}
}

// Init always fails off Darwin.
func (s *SignalSentry) Init(cb corectx.Callbacks) error {
	s.cb = cb
	return errUnsupported
}

// Uninstall is a no-op.
func (s *SignalSentry) Uninstall() {}
