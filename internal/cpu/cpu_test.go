package cpu

import "testing"

func TestARM64Accessors(t *testing.T) {
	rf := NewARM64RegisterFile()
	rf.General[arm64RegPC] = 0x1000
	rf.General[arm64RegSP] = 0x2000
	rf.General[arm64RegFP] = 0x2010
	rf.General[arm64RegLR] = 0x1004

	if got := ARM64.PC(rf); got != 0x1000 {
		t.Fatalf("PC() = %#x, want 0x1000", got)
	}
	if got := ARM64.SP(rf); got != 0x2000 {
		t.Fatalf("SP() = %#x, want 0x2000", got)
	}
	if got := ARM64.FP(rf); got != 0x2010 {
		t.Fatalf("FP() = %#x, want 0x2010", got)
	}
	if got := ARM64.LR(rf); got != 0x1004 {
		t.Fatalf("LR() = %#x, want 0x1004", got)
	}
}

func TestNameAtFallsBackToRN(t *testing.T) {
	rf := NewAMD64RegisterFile()
	if name := rf.NameAt(0); name != "rax" {
		t.Fatalf("NameAt(0) = %q, want rax", name)
	}
	if name := rf.NameAt(len(rf.Names) + 5); name != unnamed(len(rf.Names)+5) {
		t.Fatalf("NameAt out of range mismatch: %q", name)
	}
}

func TestUnnamedFormat(t *testing.T) {
	cases := map[int]string{0: "r0", 9: "r9", 12: "r12", 128: "r128"}
	for i, want := range cases {
		if got := unnamed(i); got != want {
			t.Errorf("unnamed(%d) = %q, want %q", i, got, want)
		}
	}
}

func TestStackGrowsDown(t *testing.T) {
	if !StackGrowsDown {
		t.Fatal("all supported Darwin architectures grow the stack downward")
	}
}
