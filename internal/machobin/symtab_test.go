package machobin

import "testing"

func TestNearestSymbol(t *testing.T) {
	syms := []Symbol{
		{Addr: 0x1000, Name: "_a"},
		{Addr: 0x2000, Name: "_b"},
		{Addr: 0x3000, Name: "_c"},
	}

	cases := []struct {
		addr uint64
		want string
		ok   bool
	}{
		{0x0fff, "", false},
		{0x1000, "_a", true},
		{0x1500, "_a", true},
		{0x2000, "_b", true},
		{0x3500, "_c", true},
	}
	for _, c := range cases {
		got, ok := Nearest(syms, c.addr)
		if ok != c.ok {
			t.Fatalf("Nearest(%#x): ok = %v, want %v", c.addr, ok, c.ok)
		}
		if ok && got.Name != c.want {
			t.Fatalf("Nearest(%#x): name = %q, want %q", c.addr, got.Name, c.want)
		}
	}
}

func TestBinaryImageContains(t *testing.T) {
	img := &BinaryImage{TextAddr: 0x100000000, TextSize: 0x1000}
	if !img.Contains(0x100000000) {
		t.Fatal("expected start address to be contained")
	}
	if img.Contains(0x100001000) {
		t.Fatal("end address should be exclusive")
	}
	if img.Contains(0x0ff) {
		t.Fatal("address before segment should not be contained")
	}
}

func TestCacheAddFindRemove(t *testing.T) {
	c := NewCache()
	img := &BinaryImage{HeaderAddr: 42, TextAddr: 0x1000, TextSize: 0x100}
	c.Add(img)

	if got := c.Find(0x1050); got == nil || got.HeaderAddr != 42 {
		t.Fatalf("Find did not return the registered image: %+v", got)
	}
	c.Remove(42)
	if got := c.Find(0x1050); got != nil {
		t.Fatalf("expected nil after Remove, got %+v", got)
	}
}
