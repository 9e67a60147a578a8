package sentry

import (
	"bytes"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/pprof/profile"
	"github.com/joeycumines/go-catrate"
	"golang.org/x/sys/unix"

	"github.com/dispatchrun/kscrash/internal/corectx"
	"github.com/dispatchrun/kscrash/internal/sidecar"
)

// WatchdogSentry implements spec.md §4.1's hang/watchdog sentry: a pair of
// goroutines monitor main-thread liveness by posting a heartbeat and
// observing role transitions; if the heartbeat stalls beyond threshold, it
// emits a hang report and records the episode in a sidecar file. The next
// launch reads that record back in Init but adds it to no report.
type WatchdogSentry struct {
	base

	path      string
	interval  time.Duration
	threshold time.Duration

	side         *sidecar.File
	limiter      *catrate.Limiter
	priorEpisode sidecar.Record

	lastBeat atomic.Int64 // unix nanos, written by the heartbeat goroutine
	stop     chan struct{}
	done     chan struct{}

	lastPProfPath atomic.Pointer[string]
}

// NewWatchdogSentry returns an uninstalled watchdog. sidecarPath names the
// mmap'd 24-byte struct (spec.md §6); interval is the heartbeat period and
// threshold is how long a missed heartbeat may persist before it counts as
// a hang.
func NewWatchdogSentry(sidecarPath string, interval, threshold time.Duration) *WatchdogSentry {
	return &WatchdogSentry{
		base:      base{id: "watchdog", flags: corectx.FlagDebuggerUnsafe},
		path:      sidecarPath,
		interval:  interval,
		threshold: threshold,
		// One hang report per minute, at most 5 in an hour: the sentry
		// still records every missed-heartbeat episode in the sidecar,
		// this limiter only throttles how often a full report gets
		// written (spec.md's hang sentry shouldn't flood storage).
		limiter: catrate.NewLimiter(map[time.Duration]int{
			time.Minute: 1,
			time.Hour:   5,
		}),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (s *WatchdogSentry) Init(cb corectx.Callbacks) error {
	s.cb = cb

	staleOwner := s.checkStaleOwner()

	side, err := reopenOrCreateSidecar(s.sidecarPathHint())
	if err != nil {
		return err
	}
	s.side = side

	if prev := side.Read(); prev.EndRole != sidecar.RoleNone && !prev.Recovered && staleOwner {
		// The previous process ended mid-hang (or mid-crash) without
		// clearing its role, and its owning pid is confirmed dead (not
		// just a reopen racing the same process): keep that episode in
		// priorEpisode. Nothing in this sentry reads priorEpisode back,
		// so the episode does not appear in any report.
		s.priorEpisode = prev
	}
	_ = os.WriteFile(s.pidPath(), []byte(strconv.Itoa(os.Getpid())), 0644)

	s.lastBeat.Store(time.Now().UnixNano())
	s.SetEnabled(true)
	go s.heartbeat()
	go s.watch()
	return nil
}

func (s *WatchdogSentry) pidPath() string { return s.path + ".pid" }

// checkStaleOwner reports whether the sidecar's previous owning process is
// confirmed dead, probed via kill(pid, 0) (spec.md's sidecar is keyed by
// path, not pid, so this is the liveness check standing in for "is this
// actually a restart" rather than a second instance racing the first).
func (s *WatchdogSentry) checkStaleOwner() bool {
	data, err := os.ReadFile(s.pidPath())
	if err != nil {
		return true // no prior owner recorded: nothing to be stale
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return true
	}
	return unix.Kill(pid, 0) != nil // ESRCH (or any error) means it's gone
}

// sidecarPathHint exists so a future multi-instance deployment can derive
// per-process sidecar paths; today it's a fixed field set at construction.
func (s *WatchdogSentry) sidecarPathHint() string { return s.path }

func reopenOrCreateSidecar(path string) (*sidecar.File, error) {
	if f, err := sidecar.Open(path); err == nil {
		return f, nil
	}
	return sidecar.Create(path)
}

func (s *WatchdogSentry) heartbeat() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			close(s.done)
			return
		case <-ticker.C:
			s.lastBeat.Store(time.Now().UnixNano())
			_ = s.side.Write(sidecar.Record{EndTimestamp: time.Now().Unix(), EndRole: sidecar.RoleMain})
		}
	}
}

func (s *WatchdogSentry) watch() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			last := time.Unix(0, s.lastBeat.Load())
			if time.Since(last) > s.threshold {
				s.onHang()
			}
		}
	}
}

// Uninstall stops both goroutines and marks the sidecar as a clean exit.
func (s *WatchdogSentry) Uninstall() {
	close(s.stop)
	if s.side != nil {
		_ = s.side.Write(sidecar.Record{EndTimestamp: time.Now().Unix(), EndRole: sidecar.RoleNone, Recovered: true})
		_ = s.side.Close()
	}
}

func (s *WatchdogSentry) onHang() {
	_ = s.side.Write(sidecar.Record{EndTimestamp: time.Now().Unix(), EndRole: sidecar.RoleWatchdog})

	if _, allow := s.limiter.Allow("hang"); !allow {
		return
	}

	path := s.captureGoroutineProfile()
	s.lastPProfPath.Store(&path)

	ctx := s.cb.Notify(0, corectx.ShouldWriteReport)
	if ctx == nil {
		return
	}
	ctx.Class = corectx.ClassUser
	ctx.User = corectx.UserSpecific{Reason: "main thread hang detected"}
	s.cb.Handle(ctx)
}

// captureGoroutineProfile dumps the current goroutine stacks as a
// google/pprof profile.Profile and writes it beside the sidecar file,
// giving the hang report's memory-pressure-adjacent artifact a concrete,
// tool-readable format instead of raw text (spec.md's MonitorContext
// "optional memory-pressure snapshot", realized here for the hang path).
func (s *WatchdogSentry) captureGoroutineProfile() string {
	var buf bytes.Buffer
	if err := pprof.Lookup("goroutine").WriteTo(&buf, 0); err != nil {
		return ""
	}
	prof, err := profile.Parse(&buf)
	if err != nil {
		return ""
	}
	path := s.path + ".hang.pprof"
	f, err := os.Create(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	if err := prof.Write(f); err != nil {
		return ""
	}
	return path
}

// WriteReportSection adds the hang sentry's own report.json section: the
// path to the goroutine profile captured at the most recent hang, if any.
func (s *WatchdogSentry) WriteReportSection(ctx *corectx.MonitorContext, w corectx.ReportWriter) error {
	w.BeginObject("hang")
	if p := s.lastPProfPath.Load(); p != nil && *p != "" {
		w.AddString("goroutine_profile_path", *p)
	}
	w.AddBool("detected", ctx.Class == corectx.ClassUser && ctx.User.Reason == "main thread hang detected")
	w.EndContainer()
	return nil
}
