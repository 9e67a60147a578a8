package kscrash

import (
	"time"

	"github.com/dispatchrun/kscrash/internal/corectx"
)

// Configuration holds everything Install needs beyond the app name, built
// via the functional Option pattern (spec.md §4.0b), the same shape the
// teacher uses for its CPUProfilerOption family in cpu.go.
type Configuration struct {
	InstallPath      string
	MaxReportCount   int
	UserInfo         map[string]string
	OnCrash          func(report []byte)
	EnableMach       bool
	EnableSignal     bool
	EnableLanguage   bool
	EnableWatchdog   bool
	IncludeSIGTERM   bool
	HeartbeatPeriod  time.Duration
	HangThreshold    time.Duration
	extraMonitors    []corectx.Monitor
}

// defaultConfiguration mirrors spec.md §4.10's defaults: all three crash
// sentries on, watchdog on with a 5s heartbeat / 15s hang threshold, 100
// retained reports.
func defaultConfiguration() Configuration {
	return Configuration{
		MaxReportCount:  100,
		EnableMach:      true,
		EnableSignal:    true,
		EnableLanguage:  true,
		EnableWatchdog:  true,
		HeartbeatPeriod: 5 * time.Second,
		HangThreshold:   15 * time.Second,
	}
}

// Option configures Install, following the teacher's functional-options
// convention (cpu.go's CPUProfilerOption).
type Option func(*Configuration)

// WithInstallPath overrides the directory reports and the crash-state file
// are written under (default: appName under os.UserCacheDir).
func WithInstallPath(path string) Option {
	return func(c *Configuration) { c.InstallPath = path }
}

// WithMaxReportCount bounds how many reports the store retains, oldest
// deleted first (spec.md §4.10).
func WithMaxReportCount(n int) Option {
	return func(c *Configuration) { c.MaxReportCount = n }
}

// WithMonitors installs additional, caller-supplied corectx.Monitor
// implementations alongside the three built-in sentries.
func WithMonitors(monitors ...corectx.Monitor) Option {
	return func(c *Configuration) { c.extraMonitors = append(c.extraMonitors, monitors...) }
}

// WithUserInfo attaches arbitrary key/value metadata, written into every
// report as the "user_info" object of the "crash" section.
func WithUserInfo(info map[string]string) Option {
	return func(c *Configuration) { c.UserInfo = info }
}

// WithOnCrash registers a callback invoked with the finished report's raw
// JSON bytes after a crash is handled but before the process re-raises
// (spec.md §2's "gated user callback").
func WithOnCrash(fn func(report []byte)) Option {
	return func(c *Configuration) { c.OnCrash = fn }
}

// WithSentries selectively disables the Mach, signal, language, or
// watchdog sentries (all default to enabled).
func WithSentries(mach, signal, language, watchdog bool) Option {
	return func(c *Configuration) {
		c.EnableMach = mach
		c.EnableSignal = signal
		c.EnableLanguage = language
		c.EnableWatchdog = watchdog
	}
}

// WithSIGTERM includes SIGTERM in the signal sentry's fatal-signal set
// (spec.md §4.1: "and optionally SIGTERM").
func WithSIGTERM() Option {
	return func(c *Configuration) { c.IncludeSIGTERM = true }
}

// WithWatchdog configures the hang sentry's heartbeat period and hang
// threshold.
func WithWatchdog(heartbeat, threshold time.Duration) Option {
	return func(c *Configuration) {
		c.HeartbeatPeriod = heartbeat
		c.HangThreshold = threshold
	}
}
