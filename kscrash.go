// Package kscrash is an in-process crash reporter for Darwin/XNU programs:
// it installs Mach exception, POSIX signal, language (Go panic), and hang
// sentries that capture a JSON report of the crashing thread, the
// process's loaded binary images, and caller-supplied application state,
// streamed into the report file without buffering the whole document in
// memory.
package kscrash

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/dispatchrun/kscrash/internal/corectx"
	"github.com/dispatchrun/kscrash/internal/jsonenc"
	"github.com/dispatchrun/kscrash/internal/machkit"
	"github.com/dispatchrun/kscrash/internal/machobin"
	"github.com/dispatchrun/kscrash/internal/registry"
	"github.com/dispatchrun/kscrash/internal/report"
	"github.com/dispatchrun/kscrash/internal/sentry"
	"github.com/dispatchrun/kscrash/internal/unwind"
)

const maxInstallPathLen = 1024

var installed atomic.Bool

// logger is where this package reports conditions a caller can't otherwise
// observe (a detected crash loop, a failed sentry Init): a bare *log.Logger
// writing to stderr by default, overridable with SetLogger, the same
// convention the teacher's own profiler types use for their diagnostic
// output.
var logger = log.New(os.Stderr, "kscrash: ", log.LstdFlags)

// SetLogger overrides the package-level logger.
func SetLogger(l *log.Logger) { logger = l }

// Instance is the live handle returned by Install, bundling everything a
// caller needs afterward: the crash-state and report-store accessors, plus
// Uninstall.
type Instance struct {
	cfg      Configuration
	reg      *registry.Registry
	state    *CrashState
	store    *ReportStore
	images   *machobin.Cache
	cache    *unwind.Cache
	prober   machkit.Prober
	runID    string
	sentries []interface{ Uninstall() }
	language *sentry.LanguageSentry
}

// Protect wraps fn with the installed language sentry's panic recovery, so
// a panic inside fn produces a report before re-panicking (spec.md §2's
// control flow for the language-exception class). If the language sentry
// wasn't installed, fn runs unprotected.
func (in *Instance) Protect(fn func()) {
	if in.language == nil {
		fn()
		return
	}
	in.language.Protect(fn)
}

// State returns the persistent crash-state record.
func (in *Instance) State() *CrashState { return in.state }

// Store returns the on-disk report store.
func (in *Instance) Store() *ReportStore { return in.store }

// Uninstall restores every sentry's original handler and stops the
// watchdog's goroutines. It does not delete the install path or any
// retained reports.
func (in *Instance) Uninstall() {
	for _, s := range in.sentries {
		s.Uninstall()
	}
	installed.Store(false)
}

// Install wires up the crash-reporting pipeline for appName and returns a
// live Instance, or one of this package's sentinel errors
// (errors.Is-comparable) on failure (spec.md §2's single entry point).
func Install(appName string, opts ...Option) (*Instance, error) {
	if appName == "" {
		return nil, fmt.Errorf("%w: appName must not be empty", ErrInvalidParameter)
	}
	if !installed.CompareAndSwap(false, true) {
		return nil, ErrAlreadyInstalled
	}

	cfg := defaultConfiguration()
	for _, o := range opts {
		o(&cfg)
	}

	path, err := resolveInstallPath(appName, cfg.InstallPath)
	if err != nil {
		installed.Store(false)
		return nil, err
	}
	if len(path) > maxInstallPathLen {
		installed.Store(false)
		return nil, fmt.Errorf("%w: %q exceeds %d bytes", ErrPathTooLong, path, maxInstallPathLen)
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		installed.Store(false)
		return nil, fmt.Errorf("%w: %v", ErrCouldNotCreatePath, err)
	}

	state, err := loadCrashState(filepath.Join(path, appName+"-state.json"))
	if err != nil {
		installed.Store(false)
		return nil, fmt.Errorf("%w: %v", ErrCrashStateInitFailed, err)
	}

	store, err := NewReportStore(filepath.Join(path, "reports"), appName, cfg.MaxReportCount)
	if err != nil {
		installed.Store(false)
		return nil, fmt.Errorf("%w: %v", ErrStoreInitFailed, err)
	}

	images := machobin.Default
	machobin.RegisterDyldCallbacks()
	cache := unwind.NewCache()
	prober := machkit.NewSelfProbe()

	runID := uuid.NewString()

	in := &Instance{
		cfg:    cfg,
		reg:    registry.New(),
		state:  state,
		store:  store,
		images: images,
		cache:  cache,
		prober: prober,
		runID:  runID,
	}

	cb := corectx.Callbacks{
		Notify: in.reg.Notify,
		Handle: in.handle,
	}

	in.reg.Register(newCoreMonitor(state, cfg.UserInfo))
	for _, m := range cfg.extraMonitors {
		in.reg.Register(m)
	}

	if cfg.EnableMach {
		if debuggerAttached() {
			logger.Printf("refusing to install the Mach exception sentry: a debugger is attached")
		} else if err := in.installSentry(sentry.NewMachSentry(), cb); err != nil {
			logger.Printf("mach sentry install failed: %v", err)
		}
	}
	if cfg.EnableSignal {
		if err := in.installSentry(sentry.NewSignalSentry(cfg.IncludeSIGTERM), cb); err != nil {
			logger.Printf("signal sentry install failed: %v", err)
		}
	}
	if cfg.EnableLanguage {
		lang := sentry.NewLanguageSentry()
		if err := in.installSentry(lang, cb); err != nil {
			logger.Printf("language sentry install failed: %v", err)
		} else {
			in.language = lang
		}
	}
	if cfg.EnableWatchdog {
		w := sentry.NewWatchdogSentry(filepath.Join(path, appName+".sidecar"), cfg.HeartbeatPeriod, cfg.HangThreshold)
		if err := in.installSentry(w, cb); err != nil {
			logger.Printf("watchdog sentry install failed: %v", err)
		}
	}

	if len(in.sentries) == 0 {
		installed.Store(false)
		return nil, ErrNoActiveMonitors
	}

	if err := pruneOrphanSidecars(filepath.Join(path, "sidecars"), store, runID); err != nil {
		logger.Printf("orphan sidecar prune failed: %v", err)
	}

	return in, nil
}

// sentryMonitor is the subset of corectx.Monitor plus Uninstall every
// concrete sentry in internal/sentry implements.
type sentryMonitor interface {
	corectx.Monitor
	Uninstall()
}

func (in *Instance) installSentry(s sentryMonitor, cb corectx.Callbacks) error {
	if err := s.Init(cb); err != nil {
		return err
	}
	in.reg.Register(s)
	in.sentries = append(in.sentries, s)
	return nil
}

// resolveInstallPath applies the spec's default ("<UserCacheDir>/<appName>")
// when the caller didn't set WithInstallPath.
func resolveInstallPath(appName, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLogFilenameFailed, err)
	}
	return filepath.Join(base, appName), nil
}

// handle is the Callbacks.Handle every sentry calls once notify() has
// filled in ctx: it opens a fresh report file under the store, streams the
// full document into it, renames it into place, invokes the caller's
// OnCrash hook with the finished bytes, and then releases the registry's
// recursive-crash guard.
func (in *Instance) handle(ctx *corectx.MonitorContext) {
	if !ctx.Policy.Has(corectx.ShouldWriteReport) {
		in.reg.Release(ctx)
		return
	}

	id := in.store.NextID()
	path := in.store.PathFor(id)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		logger.Printf("could not open report file: %v", err)
		in.reg.Release(ctx)
		return
	}

	var buf [4096]byte
	enc := jsonenc.NewEncoder(f.Write, buf[:0])
	w := report.NewWriter(enc)

	doc := in.buildDocument(ctx)
	w.WriteReport(doc, func(rw corectx.ReportWriter) {
		in.reg.Each(func(m corectx.Monitor) {
			if !m.Enabled() {
				return
			}
			_ = m.WriteReportSection(ctx, rw)
		})
	})
	_ = enc.Close()
	_ = f.Close()

	if err := unix.Rename(tmp, path); err != nil {
		logger.Printf("could not publish report: %v", err)
	} else if err := in.store.Prune(); err != nil {
		logger.Printf("report prune failed: %v", err)
	}

	in.state.notifyCrash()

	if in.cfg.OnCrash != nil {
		if raw, err := os.ReadFile(path); err == nil {
			in.cfg.OnCrash(raw)
		}
	}

	in.reg.Release(ctx)
}

// buildDocument assembles the report.Document for one handled event. Only
// the offending thread is captured (ctx.Crashed, filled by the sentry that
// raised the event); the rest of the process's threads were suspended by
// the sentry for safety during capture but aren't separately symbolicated,
// matching this port's single-thread backtrace scope.
func (in *Instance) buildDocument(ctx *corectx.MonitorContext) *report.Document {
	doc := &report.Document{
		CrashID:      [16]byte(uuid.New()),
		Timestamp:    time.Now().Unix(),
		BinaryImages: in.images.Snapshot(),
		Error:        report.BuildErrorInfo(ctx),
	}

	if ctx.Crashed != nil {
		cursor := unwind.NewCursor(in.prober, in.images, in.cache)
		doc.Threads = []report.ThreadReport{
			report.BuildThreadReport(0, ctx.Crashed, cursor, in.images, in.symbolsFor),
		}
	}

	return doc
}

// symbolsFor loads (and does not cache beyond the call) img's
// section-resident symbols for BuildThreadReport's nearest-symbol lookup.
func (in *Instance) symbolsFor(img *machobin.BinaryImage) []machobin.Symbol {
	syms, err := machobin.LoadSymbols(in.prober, img)
	if err != nil {
		return nil
	}
	return syms
}

// Simulate manually drives the registry's notify/handle pair as if a user-
// triggered report had been requested (spec.md §4.1's user-reported
// exception class), the same path kscrashctl's "simulate user" subcommand
// uses.
func (in *Instance) Simulate(reason string) {
	ctx := in.reg.Notify(0, corectx.ShouldWriteReport|corectx.ShouldRecordThreads)
	if ctx == nil {
		return
	}
	ctx.Class = corectx.ClassUser
	ctx.User = corectx.UserSpecific{Reason: reason}
	in.handle(ctx)
}
