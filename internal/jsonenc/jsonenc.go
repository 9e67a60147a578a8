// Package jsonenc implements the streaming, stack-allocated JSON encoder
// described in spec.md §4.7. Numbers and escaped strings are produced by
// github.com/joeycumines/go-utilpkg/jsonenc's allocation-free
// AppendString/AppendFloat64; this package adds the container-stack,
// comma/name bookkeeping, and the sink-callback flush loop on top.
package jsonenc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"os"

	upstream "github.com/joeycumines/go-utilpkg/jsonenc"
)

// Sink is the callback the encoder flushes through, matching spec.md §4.7's
// "(bytes, len) → status" description. The report writer points one at an
// open file descriptor; tests can point one at a bytes.Buffer.
type Sink func(p []byte) (n int, err error)

// maxDepth bounds the container stack the way the rest of this module
// bounds everything else that runs during capture: deep enough for any
// real report shape, shallow enough to preallocate once.
const maxDepth = 32

// containerKind tracks whether the current open container needs a
// leading comma before its next child, and whether it's an array (no
// names) or object (names required).
type containerKind uint8

const (
	kindObject containerKind = iota
	kindArray
)

type frame struct {
	kind    containerKind
	started bool // true once at least one child has been written
}

// Encoder is the async-safe-style streaming encoder. It owns a single
// reusable byte buffer and flushes to sink once the buffer fills to three
// quarters of its capacity, so memory use stays bounded regardless of
// report size.
type Encoder struct {
	sink  Sink
	buf   []byte
	stack [maxDepth]frame
	depth int
	err   error
}

// NewEncoder returns an Encoder that flushes to sink, with buf as its
// scratch buffer (len 0 is fine; cap determines how rarely Flush is called).
func NewEncoder(sink Sink, buf []byte) *Encoder {
	return &Encoder{sink: sink, buf: buf[:0]}
}

// Err returns the first error encountered, if any; once set, every
// subsequent method becomes a no-op.
func (e *Encoder) Err() error { return e.err }

func (e *Encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *Encoder) top() *frame {
	if e.depth == 0 {
		return nil
	}
	return &e.stack[e.depth-1]
}

// preValue writes the comma-separator and/or the quoted field name that
// must precede the next value, given the current container.
func (e *Encoder) preValue(name string) {
	if e.err != nil {
		return
	}
	f := e.top()
	if f == nil {
		return // top-level value, no container bookkeeping needed
	}
	if f.started {
		e.buf = append(e.buf, ',')
	}
	f.started = true
	if f.kind == kindObject {
		e.buf = upstream.AppendString(e.buf, name)
		e.buf = append(e.buf, ':')
	}
	e.flushIfLarge()
}

func (e *Encoder) push(kind containerKind) {
	if e.depth >= maxDepth {
		e.fail(errors.New("jsonenc: container nesting too deep"))
		return
	}
	e.stack[e.depth] = frame{kind: kind}
	e.depth++
}

// BeginObject opens an object, optionally as a named field of the
// enclosing container (name is ignored at the top level or inside an
// array-of-values where names don't apply there).
func (e *Encoder) BeginObject(name string) {
	e.preValue(name)
	if e.err != nil {
		return
	}
	e.buf = append(e.buf, '{')
	e.push(kindObject)
}

// BeginArray mirrors BeginObject for arrays.
func (e *Encoder) BeginArray(name string) {
	e.preValue(name)
	if e.err != nil {
		return
	}
	e.buf = append(e.buf, '[')
	e.push(kindArray)
}

// EndContainer closes the most recently opened object or array.
func (e *Encoder) EndContainer() {
	if e.err != nil || e.depth == 0 {
		return
	}
	closing := byte('}')
	if e.stack[e.depth-1].kind == kindArray {
		closing = ']'
	}
	e.depth--
	e.buf = append(e.buf, closing)
	e.flushIfLarge()
}

// AddBool, AddInt, AddUInt, AddFloat, AddString, AddNull add a scalar value,
// optionally named when the enclosing container is an object.
func (e *Encoder) AddBool(name string, v bool) {
	e.preValue(name)
	if e.err != nil {
		return
	}
	if v {
		e.buf = append(e.buf, "true"...)
	} else {
		e.buf = append(e.buf, "false"...)
	}
}

func (e *Encoder) AddInt(name string, v int64) {
	e.preValue(name)
	if e.err != nil {
		return
	}
	e.buf = appendInt(e.buf, v)
}

func (e *Encoder) AddUInt(name string, v uint64) {
	e.preValue(name)
	if e.err != nil {
		return
	}
	e.buf = appendUint(e.buf, v)
}

func (e *Encoder) AddFloat(name string, v float64) {
	e.preValue(name)
	if e.err != nil {
		return
	}
	e.buf = upstream.AppendFloat64(e.buf, v)
}

func (e *Encoder) AddString(name, v string) {
	e.preValue(name)
	if e.err != nil {
		return
	}
	e.buf = upstream.AppendString(e.buf, v)
}

func (e *Encoder) AddNull(name string) {
	e.preValue(name)
	if e.err != nil {
		return
	}
	e.buf = append(e.buf, "null"...)
}

// AddData encodes raw bytes as a lowercase hex JSON string, the wire
// representation for arbitrary binary payloads (e.g. raw register dumps).
func (e *Encoder) AddData(name string, data []byte) {
	e.preValue(name)
	if e.err != nil {
		return
	}
	e.buf = append(e.buf, '"')
	start := len(e.buf)
	e.buf = append(e.buf, make([]byte, hex.EncodedLen(len(data)))...)
	hex.Encode(e.buf[start:], data)
	e.buf = append(e.buf, '"')
}

// AddUUID formats a 16-byte UUID in canonical 8-4-4-4-12 form (spec.md
// §4.8's "UUIDs are 8-4-4-4-12 hex").
func (e *Encoder) AddUUID(name string, uuid [16]byte) {
	e.preValue(name)
	if e.err != nil {
		return
	}
	e.buf = append(e.buf, '"')
	var buf [36]byte
	hex.Encode(buf[0:8], uuid[0:4])
	buf[8] = '-'
	hex.Encode(buf[9:13], uuid[4:6])
	buf[13] = '-'
	hex.Encode(buf[14:18], uuid[6:8])
	buf[18] = '-'
	hex.Encode(buf[19:23], uuid[8:10])
	buf[23] = '-'
	hex.Encode(buf[24:36], uuid[10:16])
	e.buf = append(e.buf, buf[:]...)
	e.buf = append(e.buf, '"')
}

// BeginString/AppendString/EndString let a caller build up a large or
// piecewise string (e.g. streamed log content) without materializing it in
// one Go string first.
func (e *Encoder) BeginString(name string) {
	e.preValue(name)
	if e.err != nil {
		return
	}
	e.buf = append(e.buf, '"')
}

func (e *Encoder) AppendStringContent(s string) {
	if e.err != nil {
		return
	}
	e.buf = upstream.InsertStringContent(e.buf, len(e.buf), s)
	e.flushIfLarge()
}

func (e *Encoder) EndString() {
	if e.err != nil {
		return
	}
	e.buf = append(e.buf, '"')
}

// AddTextFileElement streams path's contents, 512 bytes at a time, as a
// single JSON string field (spec.md §4.7). A read failure mid-stream still
// closes the string so the overall document stays syntactically valid.
func (e *Encoder) AddTextFileElement(name, path string) {
	e.BeginString(name)
	if e.err != nil {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		e.EndString()
		return
	}
	defer f.Close()

	var chunk [512]byte
	for {
		n, err := f.Read(chunk[:])
		if n > 0 {
			e.AppendStringContent(string(chunk[:n]))
		}
		if err != nil {
			break
		}
	}
	e.EndString()
}

// AddJSONElement embeds a pre-encoded JSON fragment verbatim. If rawBytes
// isn't syntactically well-formed (checked with encoding/json.Valid), it
// substitutes a {error, json_data} object instead (spec.md §4.7), and
// optionally closes the enclosing container afterward when
// closeLastContainer is set.
func (e *Encoder) AddJSONElement(name string, rawBytes []byte, closeLastContainer bool) {
	e.preValue(name)
	if e.err != nil {
		return
	}
	if looksLikeJSON(rawBytes) {
		e.buf = append(e.buf, rawBytes...)
	} else {
		e.buf = append(e.buf, '{')
		e.buf = upstream.AppendString(e.buf, "error")
		e.buf = append(e.buf, ':')
		e.buf = upstream.AppendString(e.buf, "invalid JSON data")
		e.buf = append(e.buf, ',')
		e.buf = upstream.AppendString(e.buf, "json_data")
		e.buf = append(e.buf, ':')
		e.buf = upstream.AppendString(e.buf, string(rawBytes))
		e.buf = append(e.buf, '}')
	}
	if closeLastContainer {
		e.EndContainer()
	}
}

func looksLikeJSON(b []byte) bool {
	return json.Valid(b)
}

func isJSONSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func (e *Encoder) flushIfLarge() {
	if len(e.buf) < cap(e.buf)-cap(e.buf)/4 {
		return
	}
	e.Flush()
}

// Flush writes the buffered bytes to sink, looping on partial writes
// (spec.md §4.7: "writes loop on partial writes"), then resets the buffer.
func (e *Encoder) Flush() {
	if e.err != nil {
		return
	}
	for len(e.buf) > 0 {
		n, err := e.sink(e.buf)
		if n > 0 {
			e.buf = e.buf[n:]
		}
		if err != nil {
			if errors.Is(err, io.ErrShortWrite) {
				continue
			}
			e.fail(err)
			return
		}
		if n == 0 {
			e.fail(errors.New("jsonenc: sink made no progress"))
			return
		}
	}
	e.buf = e.buf[:0]
}

// Close flushes any remaining buffered bytes. It must be called after the
// top-level container is closed.
func (e *Encoder) Close() error {
	e.Flush()
	return e.err
}

func appendInt(dst []byte, v int64) []byte {
	if v < 0 {
		dst = append(dst, '-')
		return appendUint(dst, uint64(-v))
	}
	return appendUint(dst, uint64(v))
}

func appendUint(dst []byte, v uint64) []byte {
	if v == 0 {
		return append(dst, '0')
	}
	var tmp [20]byte
	i := len(tmp)
	for v > 0 {
		i--
		tmp[i] = byte('0' + v%10)
		v /= 10
	}
	return append(dst, tmp[i:]...)
}
