package sidecar

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchdog.sidecar")

	f, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := f.Write(Record{EndTimestamp: 1000, EndRole: RoleMain}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()

	got := reopened.Read()
	if got.EndTimestamp != 1000 || got.EndRole != RoleMain || got.Recovered {
		t.Fatalf("unexpected record after reopen: %+v", got)
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-sidecar")
	if err := writeGarbage(path); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("expected Open to reject a non-sidecar file")
	}
}

func writeGarbage(path string) error {
	return os.WriteFile(path, make([]byte, RecordSize), 0644)
}
