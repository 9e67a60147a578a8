package machobin

import (
	"sort"

	"github.com/dispatchrun/kscrash/internal/machkit"
)

// Symbol is one resolved nlist_64 entry: an address and the string-table
// name at that address, used for the dladdr-equivalent nearest-symbol-below
// search the report writer needs for every backtrace frame (spec.md §4.5).
type Symbol struct {
	Addr uint64
	Name string
}

const nlist64Size = 4 + 1 + 1 + 2 + 8 // n_strx, n_type, n_sect, n_desc, n_value

const (
	nTypeStab = 0xe0
	nTypeExt  = 0x01
	nTypeSect = 0x0e
)

// LoadSymbols reads every section-resident symbol, external or local, out of the
// image's LC_SYMTAB and returns them address-sorted, ready for binary
// search. Debug stabs and undefined symbols are skipped since they never
// correspond to a live return address.
func LoadSymbols(p machkit.Prober, img *BinaryImage) ([]Symbol, error) {
	if !img.HasSymtab {
		return nil, nil
	}
	symbase := img.HeaderAddr + uint64(img.Symtab.SymOff)
	strbase := img.HeaderAddr + uint64(img.Symtab.StrOff)

	syms := make([]Symbol, 0, img.Symtab.NSyms)
	for i := uint32(0); i < img.Symtab.NSyms; i++ {
		entryAddr := symbase + uint64(i)*nlist64Size

		strx, err := p.ReadUint32(entryAddr)
		if err != nil {
			break
		}
		typeAndSect, err := p.ReadUint32(entryAddr + 4) // n_type, n_sect, n_desc packed
		if err != nil {
			break
		}
		nType := byte(typeAndSect)
		nSect := byte(typeAndSect >> 8)

		value, err := p.ReadUint64(entryAddr + 8)
		if err != nil {
			break
		}

		if nType&nTypeStab != 0 || nType&nTypeSect == 0 || nSect == 0 {
			continue
		}
		name, err := readCString(p, strbase+uint64(strx), 256)
		if err != nil || name == "" {
			continue
		}
		syms = append(syms, Symbol{Addr: value + uint64(img.Slide), Name: name})
	}

	sort.Slice(syms, func(i, j int) bool { return syms[i].Addr < syms[j].Addr })
	return syms, nil
}

// Nearest returns the symbol whose address is the greatest one not greater
// than addr, the same "nearest symbol at or below" rule dladdr uses.
func Nearest(syms []Symbol, addr uint64) (Symbol, bool) {
	if len(syms) == 0 || addr < syms[0].Addr {
		return Symbol{}, false
	}
	i := sort.Search(len(syms), func(i int) bool { return syms[i].Addr > addr })
	if i == 0 {
		return Symbol{}, false
	}
	return syms[i-1], true
}

func readCString(p machkit.Prober, addr uint64, maxLen int) (string, error) {
	buf := make([]byte, 0, 32)
	for i := 0; i < maxLen; i += 8 {
		word, err := p.ReadUint64(addr + uint64(i))
		if err != nil {
			return string(buf), err
		}
		for j := 0; j < 8; j++ {
			b := byte(word >> (8 * j))
			if b == 0 {
				return string(buf), nil
			}
			buf = append(buf, b)
		}
	}
	return string(buf), nil
}
