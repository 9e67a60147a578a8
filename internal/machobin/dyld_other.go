//go:build !darwin

package machobin

// Default is always empty off Darwin.
var Default = NewCache()

// RegisterDyldCallbacks is a no-op off Darwin (spec.md §1 Non-goals).
func RegisterDyldCallbacks() {}
