package registry

import (
	"testing"

	"github.com/dispatchrun/kscrash/internal/corectx"
)

type fakeMonitor struct {
	id      string
	enabled bool
	flags   corectx.MonitorFlags
	wrote   bool
}

func (f *fakeMonitor) Init(corectx.Callbacks) error      { return nil }
func (f *fakeMonitor) MonitorID() string                 { return f.id }
func (f *fakeMonitor) Flags() corectx.MonitorFlags       { return f.flags }
func (f *fakeMonitor) SetEnabled(enabled bool)           { f.enabled = enabled }
func (f *fakeMonitor) Enabled() bool                     { return f.enabled }
func (f *fakeMonitor) AddContextualInfo(*corectx.MonitorContext) {}
func (f *fakeMonitor) NotifyPostSystemEnable()           {}
func (f *fakeMonitor) WriteReportSection(*corectx.MonitorContext, corectx.ReportWriter) error {
	f.wrote = true
	return nil
}

type fakeWriter struct{}

func (fakeWriter) BeginObject(string)          {}
func (fakeWriter) EndContainer()               {}
func (fakeWriter) AddString(string, string)    {}
func (fakeWriter) AddUInt(string, uint64)      {}
func (fakeWriter) AddBool(string, bool)        {}

func TestRegisterCollapsesDuplicateID(t *testing.T) {
	r := New()
	m1 := &fakeMonitor{id: "signal", enabled: true}
	m2 := &fakeMonitor{id: "signal", enabled: true}

	if !r.Register(m1) {
		t.Fatal("expected first registration to succeed")
	}
	if !r.Register(m2) {
		t.Fatal("expected duplicate-ID registration to succeed by replacing")
	}

	count := 0
	r.Each(func(corectx.Monitor) { count++ })
	if count != 1 {
		t.Fatalf("expected exactly one registered monitor, got %d", count)
	}
}

func TestNotifyHandleWritesReportWhenRequested(t *testing.T) {
	r := New()
	m := &fakeMonitor{id: "signal", enabled: true}
	r.Register(m)

	ctx := r.Notify(42, corectx.ShouldWriteReport)
	if ctx.OffendingTID != 42 {
		t.Fatalf("expected offending TID to be recorded, got %d", ctx.OffendingTID)
	}

	r.Handle(ctx, fakeWriter{})
	if !m.wrote {
		t.Fatal("expected monitor to have written its report section")
	}
}

func TestNotifyDetectsRecursiveCrash(t *testing.T) {
	r := New()
	first := r.Notify(1, corectx.ShouldWriteReport|corectx.IsFatal)
	if first.IsRecrash {
		t.Fatal("first notify should not be a recrash")
	}

	second := r.Notify(2, corectx.ShouldWriteReport)
	if !second.IsRecrash {
		t.Fatal("expected second concurrent notify to be flagged as a recrash")
	}
}

func TestRemove(t *testing.T) {
	r := New()
	r.Register(&fakeMonitor{id: "a", enabled: true})
	r.Register(&fakeMonitor{id: "b", enabled: true})
	r.Remove("a")

	var ids []string
	r.Each(func(m corectx.Monitor) { ids = append(ids, m.MonitorID()) })
	if len(ids) != 1 || ids[0] != "b" {
		t.Fatalf("expected only %q to remain, got %v", "b", ids)
	}
}
