//go:build !darwin

package kscrash

// debuggerAttached always reports false off Darwin: there is no sysctl
// KERN_PROC equivalent this port targets (spec.md §1 Non-goals).
func debuggerAttached() bool { return false }
