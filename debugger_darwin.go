//go:build darwin

package kscrash

import "golang.org/x/sys/unix"

// p_traced mirrors <sys/proc.h>'s P_TRACED flag bit.
const p_traced = 0x00000800

// debuggerAttached reports whether the current process has a debugger
// attached, checked via sysctl(KERN_PROC, KERN_PROC_PID, getpid()) the same
// way lldb/Instruments themselves probe a target (spec.md §4.1: "Mach
// sentry... if a debugger is attached, refuse").
func debuggerAttached() bool {
	info, err := unix.SysctlKinfoProc("kern.proc.pid", unix.Getpid())
	if err != nil {
		return false
	}
	return info.Proc.P_flag&p_traced != 0
}
