package machobin

import "github.com/dispatchrun/kscrash/internal/machkit"

// Section records the address and size of one named section found while
// walking an image's load commands, keyed by "segment,section" the way
// callers ask for them (e.g. "__TEXT,__unwind_info").
type Section struct {
	Segment string
	Name    string
	Addr    uint64
	Size    uint64
}

// BinaryImage is the in-memory description of one Mach-O image loaded into
// the current process: its header address, ASLR slide, UUID, and the
// sections the unwinder and report writer care about (spec.md §4.5 and
// §4.8's binary_images array).
type BinaryImage struct {
	HeaderAddr uint64
	Slide      int64
	UUID       [16]byte
	Name       string
	Path       string

	TextAddr uint64
	TextSize uint64

	Sections []Section
	Symtab   symtabCommand
	HasSymtab bool
}

// Contains reports whether addr falls within this image's __TEXT segment,
// the fast-path test used to pick which image to symbolicate against.
func (b *BinaryImage) Contains(addr uint64) bool {
	return addr >= b.TextAddr && addr < b.TextAddr+b.TextSize
}

// Section looks up a previously-recorded section by "segment,section" name,
// e.g. Section("__TEXT", "__unwind_info").
func (b *BinaryImage) Section(segment, name string) (Section, bool) {
	for _, s := range b.Sections {
		if s.Segment == segment && s.Name == name {
			return s, true
		}
	}
	return Section{}, false
}

// Walk reads the Mach-O header and load commands at headerAddr through p,
// building a BinaryImage. It never panics on malformed input: every read
// goes through the Prober, so a truncated or corrupt header just yields an
// error, matching the "never trust memory" posture of the rest of the
// capture pipeline.
func Walk(p machkit.Prober, headerAddr uint64, slide int64, path string) (*BinaryImage, error) {
	ncmds, err := p.ReadUint32(headerAddr + 16)
	if err != nil {
		return nil, err
	}
	img := &BinaryImage{HeaderAddr: headerAddr, Slide: slide, Path: path, Name: baseName(path)}

	cursor := headerAddr + machHeader64Size
	for i := uint32(0); i < ncmds; i++ {
		cmd, err := p.ReadUint32(cursor)
		if err != nil {
			return img, err
		}
		cmdsize, err := p.ReadUint32(cursor + 4)
		if err != nil {
			return img, err
		}
		if cmdsize < 8 {
			return img, nil // malformed: stop walking rather than loop forever
		}

		switch LoadCmd(cmd) {
		case LcSegment64:
			if err := readSegment64(p, cursor+8, img); err != nil {
				return img, nil
			}
		case LcUUID:
			readUUID(p, cursor+8, img)
		case LcSymtab:
			readSymtab(p, cursor+8, img)
		}

		cursor += uint64(cmdsize)
	}
	return img, nil
}

func readSegment64(p machkit.Prober, addr uint64, img *BinaryImage) error {
	var name [16]byte
	// Segment name is 16 raw bytes; fetch them 8 at a time via ReadUint64.
	lo, err := p.ReadUint64(addr)
	if err != nil {
		return err
	}
	hi, err := p.ReadUint64(addr + 8)
	if err != nil {
		return err
	}
	putLE64(name[0:8], lo)
	putLE64(name[8:16], hi)

	vmaddr, err := p.ReadUint64(addr + 16)
	if err != nil {
		return err
	}
	vmsize, err := p.ReadUint64(addr + 24)
	if err != nil {
		return err
	}
	nsects, err := p.ReadUint32(addr + 56)
	if err != nil {
		return err
	}

	segName := cstr(name)
	if segName == "__TEXT" {
		img.TextAddr = vmaddr + uint64(img.Slide)
		img.TextSize = vmsize
	}

	sectionBase := addr + segmentCommand64Size
	for s := uint32(0); s < nsects; s++ {
		off := sectionBase + uint64(s)*section64Size
		sect, err := readSection64(p, off, segName)
		if err != nil {
			break
		}
		sect.Addr += uint64(img.Slide)
		img.Sections = append(img.Sections, sect)
	}
	return nil
}

func readSection64(p machkit.Prober, addr uint64, segName string) (Section, error) {
	var nameBytes [16]byte
	lo, err := p.ReadUint64(addr)
	if err != nil {
		return Section{}, err
	}
	hi, err := p.ReadUint64(addr + 8)
	if err != nil {
		return Section{}, err
	}
	putLE64(nameBytes[0:8], lo)
	putLE64(nameBytes[8:16], hi)

	secAddr, err := p.ReadUint64(addr + 32)
	if err != nil {
		return Section{}, err
	}
	secSize, err := p.ReadUint64(addr + 40)
	if err != nil {
		return Section{}, err
	}

	return Section{
		Segment: segName,
		Name:    cstr(nameBytes),
		Addr:    secAddr,
		Size:    secSize,
	}, nil
}

func readUUID(p machkit.Prober, addr uint64, img *BinaryImage) {
	lo, err := p.ReadUint64(addr)
	if err != nil {
		return
	}
	hi, err := p.ReadUint64(addr + 8)
	if err != nil {
		return
	}
	putLE64(img.UUID[0:8], lo)
	putLE64(img.UUID[8:16], hi)
}

func readSymtab(p machkit.Prober, addr uint64, img *BinaryImage) {
	symoff, err := p.ReadUint32(addr)
	if err != nil {
		return
	}
	nsyms, err := p.ReadUint32(addr + 4)
	if err != nil {
		return
	}
	stroff, err := p.ReadUint32(addr + 8)
	if err != nil {
		return
	}
	strsize, err := p.ReadUint32(addr + 12)
	if err != nil {
		return
	}
	img.Symtab = symtabCommand{SymOff: symoff, NSyms: nsyms, StrOff: stroff, StrSize: strsize}
	img.HasSymtab = true
}

func putLE64(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
