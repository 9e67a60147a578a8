// Package sidecar implements the small mmap'd file the watchdog sentry
// writes its heartbeat into (spec.md §4.1's hang monitor and the watchdog
// sentry described in SPEC_FULL.md's supplemented-features section): a
// fixed-size record that survives a hard kill of the watched process,
// readable by a separate supervisor to tell a hang from a clean exit.
package sidecar

import (
	"encoding/binary"
	"errors"
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// Magic identifies a valid sidecar file; Version lets a future format
// change be detected instead of silently misread.
const (
	Magic          uint32 = 0x6b736873 // "kshs" in ASCII, little-endian
	Version        uint32 = 1
	RecordSize            = 24
)

// Role records which end of the heartbeat pair last wrote the record.
type Role uint8

const (
	RoleNone Role = iota
	RoleMain
	RoleWatchdog
)

// Record is the sidecar's fixed 24-byte layout:
//
//	offset 0  magic        uint32
//	offset 4  version      uint32
//	offset 8  endTimestamp int64  (POSIX seconds of the last heartbeat)
//	offset 16 endRole      uint32 (Role)
//	offset 20 recovered    uint32 (0/1, set once a hang has been reported)
type Record struct {
	EndTimestamp int64
	EndRole      Role
	Recovered    bool
}

// File is an open, mmap'd sidecar. Callers must call Close when done.
type File struct {
	f    *os.File
	data mmap.MMap
}

var errBadMagic = errors.New("sidecar: bad magic or version")

// Create truncates/creates path to RecordSize bytes and mmaps it RDWR,
// writing an initial zeroed record.
func Create(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(RecordSize); err != nil {
		f.Close()
		return nil, err
	}
	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	sf := &File{f: f, data: data}
	sf.writeHeader()
	sf.Write(Record{})
	return sf, nil
}

// Open mmaps an existing sidecar file RDWR, validating its header.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	sf := &File{f: f, data: data}
	if len(data) < RecordSize || binary.LittleEndian.Uint32(data[0:4]) != Magic ||
		binary.LittleEndian.Uint32(data[4:8]) != Version {
		sf.Close()
		return nil, errBadMagic
	}
	return sf, nil
}

func (sf *File) writeHeader() {
	binary.LittleEndian.PutUint32(sf.data[0:4], Magic)
	binary.LittleEndian.PutUint32(sf.data[4:8], Version)
}

// Write stores r into the mmap'd region and flushes it to disk. This is the
// only operation the watchdog's hot path calls, so it's kept to two tiny
// syscalls (no allocation beyond what binary.LittleEndian already avoids).
func (sf *File) Write(r Record) error {
	binary.LittleEndian.PutUint64(sf.data[8:16], uint64(r.EndTimestamp))
	binary.LittleEndian.PutUint32(sf.data[16:20], uint32(r.EndRole))
	recovered := uint32(0)
	if r.Recovered {
		recovered = 1
	}
	binary.LittleEndian.PutUint32(sf.data[20:24], recovered)
	return sf.data.Flush()
}

// Read returns the record currently stored in the mmap'd region.
func (sf *File) Read() Record {
	return Record{
		EndTimestamp: int64(binary.LittleEndian.Uint64(sf.data[8:16])),
		EndRole:      Role(binary.LittleEndian.Uint32(sf.data[16:20])),
		Recovered:    binary.LittleEndian.Uint32(sf.data[20:24]) != 0,
	}
}

// Close unmaps and closes the underlying file.
func (sf *File) Close() error {
	uerr := sf.data.Unmap()
	cerr := sf.f.Close()
	if uerr != nil {
		return uerr
	}
	return cerr
}
