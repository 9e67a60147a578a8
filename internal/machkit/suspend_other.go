//go:build !darwin

package machkit

// SuspendEnvironment is a no-op outside Darwin: there is no portable
// equivalent to task_threads/thread_suspend, and this module's Non-goals
// (spec.md §1) explicitly scope multi-thread suspension to Darwin/XNU.
func SuspendEnvironment(reserved []uint32) ([]uint32, error) {
	return nil, nil
}

// ResumeEnvironment is the no-op counterpart of SuspendEnvironment.
func ResumeEnvironment(suspended []uint32) {}

// CurrentThreadHandle always returns 0 on non-Darwin builds.
func CurrentThreadHandle() uint32 { return 0 }
