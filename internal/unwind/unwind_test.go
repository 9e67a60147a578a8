package unwind

import "testing"

// memProber is a trivial machkit.Prober backed by a sparse byte map, enough
// to drive the frame-pointer walk and compact-unwind decoders under test
// without any real process memory.
type memProber struct {
	mem map[uint64][]byte
}

func newMemProber() *memProber { return &memProber{mem: map[uint64][]byte{}} }

func (m *memProber) putUint64(addr, v uint64) {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	m.mem[addr] = b
}

func (m *memProber) ReadInto(dst []byte, addr uint64) error {
	for i := range dst {
		b, ok := m.mem[addr+uint64(i)]
		if !ok || len(b) == 0 {
			return &fakeErr{}
		}
		dst[i] = b[0]
	}
	return nil
}

func (m *memProber) ReadUint64(addr uint64) (uint64, error) {
	var v uint64
	for i := 0; i < 8; i++ {
		b, ok := m.mem[addr+uint64(i)]
		if !ok {
			return 0, &fakeErr{}
		}
		v |= uint64(b[0]) << (8 * i)
	}
	return v, nil
}

func (m *memProber) ReadUint32(addr uint64) (uint32, error) {
	v, err := m.ReadUint64(addr)
	return uint32(v), err
}

// store writes v at addr, one byte entry per address for simplicity.
func (m *memProber) store(addr uint64, v uint64) {
	for i := 0; i < 8; i++ {
		m.mem[addr+uint64(i)] = []byte{byte(v >> (8 * i))}
	}
}

type fakeErr struct{}

func (*fakeErr) Error() string { return "unmapped" }

func TestWalkFPStackDirectionInvariant(t *testing.T) {
	p := newMemProber()
	// fp -> previous=fp (violates "previous > fp"), return addr = 0x5000.
	p.store(0x1000, 0x1000)
	p.store(0x1008, 0x5000)

	if _, ok := walkFP(p, 0x1000, 16); ok {
		t.Fatal("expected stack-direction invariant to reject equal previous-FP")
	}
}

func TestWalkFPHappyPath(t *testing.T) {
	p := newMemProber()
	p.store(0x2000, 0x3000) // previous FP, higher address: valid
	p.store(0x2008, 0x6000) // return address

	r, ok := walkFP(p, 0x2000, 16)
	if !ok {
		t.Fatal("expected successful FP walk")
	}
	if r.ReturnAddr != 0x6000 || r.NewSP != 0x2010 || r.NewFP != 0x3000 {
		t.Fatalf("unexpected result: %+v", r)
	}
}

func TestWalkFPRejectsZeroReturn(t *testing.T) {
	p := newMemProber()
	p.store(0x4000, 0x5000)
	p.store(0x4008, 0)

	if _, ok := walkFP(p, 0x4000, 16); ok {
		t.Fatal("expected zero return address to be rejected")
	}
}

func TestCursorFromBacktrace(t *testing.T) {
	c := NewCursor(nil, nil, nil)
	c.ResetFromBacktrace([]uintptr{0x1111, 0x2222, 0x3333})

	var got []uint64
	for {
		f, ok := c.Next()
		if !ok {
			break
		}
		got = append(got, f.Address)
	}
	if len(got) != 3 || got[0] != 0x1111 || got[2] != 0x3333 {
		t.Fatalf("unexpected backtrace walk: %v", got)
	}
}

func TestDecodeCompactARM64Frameless(t *testing.T) {
	p := newMemProber()
	// stackSize = 2*16 = 32; return addr at sp+32-8=sp+24.
	const enc = uint32(0x02000000) | (2 << 12)
	sp := uint64(0x7000)
	p.store(sp+24, 0x8000)

	r, ok := decodeCompactARM64(p, enc, 0, sp, 0)
	if !ok {
		t.Fatal("expected frameless decode to succeed")
	}
	if r.ReturnAddr != 0x8000 || r.NewSP != sp+32 {
		t.Fatalf("unexpected result: %+v", r)
	}
}

func TestDecodeCompactX86_64RBPFrame(t *testing.T) {
	p := newMemProber()
	fp := uint64(0x9000)
	p.store(fp, 0xA000)   // saved RBP
	p.store(fp+8, 0xB000) // return address
	const enc = uint32(0x01000000)

	r, ok := decodeCompactX86_64(p, enc, 0, fp)
	if !ok {
		t.Fatal("expected RBP-frame decode to succeed")
	}
	if r.ReturnAddr != 0xB000 || r.NewFP != 0xA000 || r.NewSP != fp+16 {
		t.Fatalf("unexpected result: %+v", r)
	}
}
