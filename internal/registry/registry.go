// Package registry implements the monitor registry described in spec.md
// §4.1: a fixed-size slot table of installed sentries plus the notify/handle
// orchestration every sentry calls into when its exception class fires.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/dispatchrun/kscrash/internal/corectx"
)

// maxMonitors bounds the registry (spec.md §4.1: "fixed 100-slot array").
const maxMonitors = 100

// Registry is append-mostly with CAS-based removes (spec.md §9 "Shared-
// resource policy"): Register does a lock-free CAS insert that also
// collapses duplicate registrations of the same MonitorID, and Remove does a
// CAS-based clear of the owning slot.
type Registry struct {
	slots [maxMonitors]atomic.Pointer[corectx.Monitor]

	// A per-registry preallocated MonitorContext backs notify(), reused
	// across events so it is never allocated at capture time (spec.md §3).
	ctx      corectx.MonitorContext
	ctxMu    sync.Mutex // not locked by any method of Registry
	handling atomic.Bool
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Register installs m, replacing any existing monitor with the same
// MonitorID in place (spec.md §4.1: "duplicate-collapsing"). It returns
// false if the registry is full and m's ID isn't already present.
func (r *Registry) Register(m corectx.Monitor) bool {
	id := m.MonitorID()

	for i := range r.slots {
		existing := r.slots[i].Load()
		if existing != nil && (*existing).MonitorID() == id {
			r.slots[i].Store(&m)
			return true
		}
	}
	for i := range r.slots {
		if r.slots[i].CompareAndSwap(nil, &m) {
			return true
		}
	}
	return false
}

// Remove clears the slot holding the monitor with the given ID, if present.
func (r *Registry) Remove(id string) {
	for i := range r.slots {
		existing := r.slots[i].Load()
		if existing != nil && (*existing).MonitorID() == id {
			r.slots[i].CompareAndSwap(existing, nil)
			return
		}
	}
}

// Each calls fn for every currently-registered monitor, skipping empty
// slots. fn must not call Register/Remove.
func (r *Registry) Each(fn func(corectx.Monitor)) {
	for i := range r.slots {
		if m := r.slots[i].Load(); m != nil {
			fn(*m)
		}
	}
}

// Notify implements spec.md §4.1's notify(): it accumulates the exception
// handling policy across every enabled monitor, marks which thread raised
// the event, and returns the shared MonitorContext for sentries to fill in
// further. If a crash is already being handled (recursive-crash guard), it
// returns the same shared context without resetting it, with
// CrashedDuringExceptionHandling added to its policy and IsRecrash set.
func (r *Registry) Notify(offendingTID uint64, requirements corectx.ExceptionHandlingPolicy) *corectx.MonitorContext {
	if !r.handling.CompareAndSwap(false, true) {
		r.ctx.Policy |= corectx.CrashedDuringExceptionHandling
		r.ctx.IsRecrash = true
		return &r.ctx
	}

	r.ctx.Reset()
	r.ctx.OffendingTID = offendingTID
	r.ctx.Policy = requirements

	r.Each(func(m corectx.Monitor) {
		if !m.Enabled() {
			return
		}
		m.AddContextualInfo(&r.ctx)
	})

	return &r.ctx
}

// Handle implements spec.md §4.1's handle(): it asks every enabled monitor
// to write its report section if the policy calls for it, then, once all
// monitors have had a chance, releases the handling guard unless the event
// was fatal (in which case the guard is intentionally left set — the
// process is expected to terminate and there is no "next" event to handle).
func (r *Registry) Handle(ctx *corectx.MonitorContext, w corectx.ReportWriter) {
	if ctx.Policy.Has(corectx.ShouldWriteReport) {
		r.Each(func(m corectx.Monitor) {
			if !m.Enabled() {
				return
			}
			_ = m.WriteReportSection(ctx, w)
		})
	}

	r.Release(ctx)
}

// Release drops the recursive-crash guard taken by Notify, unless the event
// was fatal (in which case the guard is intentionally left set — the
// process is expected to terminate and there is no "next" event to
// handle). Callers that write the report section themselves (rather than
// through Handle, e.g. to interleave it inside an already-open JSON
// container) call this once they're done instead of Handle.
func (r *Registry) Release(ctx *corectx.MonitorContext) {
	if !ctx.Policy.Has(corectx.IsFatal) {
		r.handling.Store(false)
	}
}

// Callbacks returns the Notify/Handle pair in the shape corectx.Monitor.Init
// expects, so every monitor is wired to the same registry instance without
// each sentry file needing to import this package's concrete type.
func (r *Registry) Callbacks(w corectx.ReportWriter) corectx.Callbacks {
	return corectx.Callbacks{
		Notify: r.Notify,
		Handle: func(ctx *corectx.MonitorContext) { r.Handle(ctx, w) },
	}
}
