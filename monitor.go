package kscrash

import (
	"sync/atomic"

	"github.com/dispatchrun/kscrash/internal/corectx"
)

// coreMonitor is the always-registered Monitor that attaches application-
// level context to every event: the CrashState's crashed-last-launch flag
// and launch/session counters
// and the caller's WithUserInfo map (spec.md §3's MonitorContext fields
// "application-state snapshot" and its user-data counterpart).
type coreMonitor struct {
	enabled atomic.Bool
	state   *CrashState
	info    map[string]string
}

func newCoreMonitor(state *CrashState, info map[string]string) *coreMonitor {
	m := &coreMonitor{state: state, info: info}
	m.enabled.Store(true)
	return m
}

func (m *coreMonitor) Init(corectx.Callbacks) error { return nil }
func (m *coreMonitor) MonitorID() string            { return "core" }
func (m *coreMonitor) Flags() corectx.MonitorFlags  { return corectx.FlagNone }
func (m *coreMonitor) SetEnabled(v bool)            { m.enabled.Store(v) }
func (m *coreMonitor) Enabled() bool                { return m.enabled.Load() }
func (m *coreMonitor) NotifyPostSystemEnable()      {}

// AddContextualInfo runs during notify(), while the registry still holds
// the recursive-crash guard, so it must not allocate beyond what's already
// reachable from m (spec.md §5 "signal-handler mode" applies transitively
// here since a Mach/signal sentry may be the caller).
func (m *coreMonitor) AddContextualInfo(ctx *corectx.MonitorContext) {
	ctx.MonitorFlags |= uint32(m.Flags())
}

// WriteReportSection emits the crash-state snapshot and user-info map this
// monitor is responsible for; this runs in normal Go code after
// suspend/capture, so ordinary allocation (map iteration, string building)
// is fine here even though AddContextualInfo above stays allocation-free.
func (m *coreMonitor) WriteReportSection(ctx *corectx.MonitorContext, w corectx.ReportWriter) error {
	w.BeginObject("application_state")
	if m.state != nil {
		w.AddBool("crashed_last_launch", m.state.CrashedLastLaunch)
		w.AddUInt("launches_since_launch", uint64(m.state.LaunchesSinceLaunch))
		w.AddUInt("sessions_since_launch", uint64(m.state.SessionsSinceLaunch))
	}
	w.EndContainer()

	if len(m.info) > 0 {
		w.BeginObject("user_info")
		for k, v := range m.info {
			w.AddString(k, v)
		}
		w.EndContainer()
	}
	return nil
}

var _ corectx.Monitor = (*coreMonitor)(nil)
