package kscrash

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"
)

const crashStateFormatVersion = 1

// CrashState is the persistent app-state record described in spec.md §3/
// §4.10: format version, crashed-last-launch flag, cumulative active/
// background durations since last crash and since launch, and session/
// launch counts. It is loaded once at Install and rewritten at state
// transitions and on crash.
type CrashState struct {
	FormatVersion int `json:"format_version"`

	CrashedLastLaunch bool `json:"crashed_last_launch"`

	ActiveDurationSinceLastCrash     float64 `json:"active_duration_since_last_crash"`
	BackgroundDurationSinceLastCrash float64 `json:"background_duration_since_last_crash"`
	ActiveDurationSinceLaunch        float64 `json:"active_duration_since_launch"`
	BackgroundDurationSinceLaunch    float64 `json:"background_duration_since_launch"`

	LaunchesSinceLastCrash int `json:"launches_since_last_crash"`
	SessionsSinceLastCrash int `json:"sessions_since_last_crash"`
	LaunchesSinceLaunch    int `json:"launches_since_launch"`
	SessionsSinceLaunch    int `json:"sessions_since_launch"`

	path string `json:"-"`

	mu          sync.Mutex `json:"-"`
	isActive    bool
	lastTransition time.Time

	recrashLimiter *catrate.Limiter `json:"-"`
}

// loadCrashState reads path, or returns a fresh zero-value state seeded
// for a first launch if the file doesn't exist yet (spec.md §4.10: "Load
// at init").
func loadCrashState(path string) (*CrashState, error) {
	cs := &CrashState{FormatVersion: crashStateFormatVersion, path: path}
	cs.recrashLimiter = catrate.NewLimiter(map[time.Duration]int{
		time.Minute: 3,
		time.Hour:   20,
	})

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cs.LaunchesSinceLaunch = 1
			cs.SessionsSinceLaunch = 1
			return cs, cs.save()
		}
		return nil, err
	}
	if err := json.Unmarshal(data, cs); err != nil {
		return nil, err
	}
	cs.path = path
	cs.recrashLimiter = catrate.NewLimiter(map[time.Duration]int{
		time.Minute: 3,
		time.Hour:   20,
	})

	cs.LaunchesSinceLaunch = 1
	cs.SessionsSinceLaunch = 1
	cs.lastTransition = time.Now()
	return cs, cs.save()
}

func (cs *CrashState) save() error {
	data, err := json.MarshalIndent(cs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(cs.path, data, 0644)
}

// NotifyAppActive records a foreground/background transition, updating the
// relevant cumulative duration using a monotonic clock delta, mirroring
// KSCrashState.c's ksa_updateDurations (SPEC_FULL.md §10).
func (cs *CrashState) NotifyAppActive(active bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	now := time.Now()
	if !cs.lastTransition.IsZero() {
		delta := now.Sub(cs.lastTransition).Seconds()
		if cs.isActive {
			cs.ActiveDurationSinceLastCrash += delta
			cs.ActiveDurationSinceLaunch += delta
		} else {
			cs.BackgroundDurationSinceLastCrash += delta
			cs.BackgroundDurationSinceLaunch += delta
		}
	}
	cs.isActive = active
	cs.lastTransition = now
	_ = cs.save()
}

// NotifyAppInForeground is an alias for NotifyAppActive(true), matching
// the distilled spec's naming for the foreground transition specifically.
func (cs *CrashState) NotifyAppInForeground() { cs.NotifyAppActive(true) }

// NotifyAppTerminate flushes the final duration delta and persists state
// before a clean shutdown.
func (cs *CrashState) NotifyAppTerminate() {
	cs.NotifyAppActive(cs.isActive)
}

// notifyCrash marks the crashed-last-launch flag, resets the since-last-
// crash counters, and uses the rate limiter to detect (not suppress —
// spec.md requires every event to still produce a report) a rapid-fire
// re-crash loop, logging a warning when one is seen.
func (cs *CrashState) notifyCrash() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, allowed := cs.recrashLimiter.Allow("crash"); !allowed {
		logger.Printf("kscrash: detected a rapid-fire crash loop (more than the configured rate in the last minute)")
	}

	cs.CrashedLastLaunch = true
	cs.ActiveDurationSinceLastCrash = 0
	cs.BackgroundDurationSinceLastCrash = 0
	cs.LaunchesSinceLastCrash = 0
	cs.SessionsSinceLastCrash = 0
	_ = cs.save()
}
