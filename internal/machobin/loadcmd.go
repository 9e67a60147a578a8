// Package machobin walks the Mach-O load commands of images already mapped
// into the current process, the in-memory equivalent of what dyld itself
// does at load time. Everything here reads through an machkit.Prober rather
// than a file handle, since by the time a monitor needs this information the
// binary on disk may differ from what's actually mapped (spec.md §4.5,
// "Binary image introspection").
package machobin

// LoadCmd mirrors the subset of Mach-O LC_* constants this module needs to
// recognize while walking a header's command list (grounded on the
// blacktop/go-macho LoadCmd table, trimmed to what the report writer and
// unwinder actually consume).
type LoadCmd uint32

const (
	lcReqDyld   LoadCmd = 0x80000000
	LcSegment64 LoadCmd = 0x19
	LcSymtab    LoadCmd = 0x2
	LcUUID      LoadCmd = 0x1b
	LcMain      LoadCmd = 0x28 | lcReqDyld
)

// mach_header_64, sized 32 bytes: magic, cputype, cpusubtype, filetype,
// ncmds, sizeofcmds, flags, reserved.
const machHeader64Size = 32

const machHeader64Magic = 0xfeedfacf

// loadCommandHeader is the common 8-byte prefix every load command starts
// with: the command identifier and its total size including this prefix.
type loadCommandHeader struct {
	Cmd     uint32
	CmdSize uint32
}

// segmentCommand64 mirrors Mach-O's segment_command_64, minus the trailing
// section_64 array which is walked separately.
type segmentCommand64 struct {
	Name     [16]byte
	VMAddr   uint64
	VMSize   uint64
	FileOff  uint64
	FileSize uint64
	MaxProt  uint32
	InitProt uint32
	NSects   uint32
	Flags    uint32
}

const segmentCommand64Size = 16 + 8*4 + 4*4

// section64 mirrors Mach-O's section_64.
type section64 struct {
	SectName [16]byte
	SegName  [16]byte
	Addr     uint64
	Size     uint64
	Offset   uint32
	Align    uint32
	RelOff   uint32
	NReloc   uint32
	Flags    uint32
	Reserved1 uint32
	Reserved2 uint32
	Reserved3 uint32
}

const section64Size = 16 + 16 + 8 + 8 + 4*8

// symtabCommand mirrors Mach-O's symtab_command.
type symtabCommand struct {
	SymOff  uint32
	NSyms   uint32
	StrOff  uint32
	StrSize uint32
}

func cstr(b [16]byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}
