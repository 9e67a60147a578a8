package sentry

import (
	"testing"

	"github.com/dispatchrun/kscrash/internal/corectx"
)

func TestMachExceptionAndSignalNameTables(t *testing.T) {
	if got := MachExceptionName(1); got != "EXC_BAD_ACCESS" {
		t.Fatalf("MachExceptionName(1) = %q", got)
	}
	if got := MachExceptionName(999); got != "EXC_UNKNOWN" {
		t.Fatalf("MachExceptionName(999) = %q", got)
	}
	if got := SignalName(11); got != "SIGSEGV" {
		t.Fatalf("SignalName(11) = %q", got)
	}
	if got := DerivedSignal(1); got != 11 {
		t.Fatalf("DerivedSignal(EXC_BAD_ACCESS) = %d, want SIGSEGV", got)
	}
	if got := DerivedMachException(11); got != 1 {
		t.Fatalf("DerivedMachException(SIGSEGV) = %d, want EXC_BAD_ACCESS", got)
	}
}

func TestLanguageSentryProtectRecoversAndReports(t *testing.T) {
	s := NewLanguageSentry()

	var notified, handled bool
	var gotReason string
	cb := corectx.Callbacks{
		Notify: func(tid uint64, req corectx.ExceptionHandlingPolicy) *corectx.MonitorContext {
			notified = true
			return &corectx.MonitorContext{}
		},
		Handle: func(ctx *corectx.MonitorContext) {
			handled = true
			gotReason = ctx.Language.Reason
		},
	}
	if err := s.Init(cb); err != nil {
		t.Fatalf("Init: %v", err)
	}

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected Protect to re-panic after handling")
			}
		}()
		s.Protect(func() { panic("boom") })
	}()

	if !notified || !handled {
		t.Fatalf("expected notify and handle to be called, got notified=%v handled=%v", notified, handled)
	}
	if gotReason != "boom" {
		t.Fatalf("expected reason %q, got %q", "boom", gotReason)
	}
}

func TestLanguageSentryDisabledReraisesWithoutReporting(t *testing.T) {
	s := NewLanguageSentry()
	called := false
	_ = s.Init(corectx.Callbacks{
		Notify: func(uint64, corectx.ExceptionHandlingPolicy) *corectx.MonitorContext {
			called = true
			return &corectx.MonitorContext{}
		},
		Handle: func(*corectx.MonitorContext) {},
	})
	s.SetEnabled(false)

	func() {
		defer func() { recover() }()
		s.Protect(func() { panic("boom") })
	}()

	if called {
		t.Fatal("expected a disabled sentry not to call Notify")
	}
}
