package jsonenc

import (
	"bytes"
	"testing"
)

func encode(f func(e *Encoder)) (string, error) {
	var buf bytes.Buffer
	e := NewEncoder(func(p []byte) (int, error) { return buf.Write(p) }, make([]byte, 0, 256))
	f(e)
	err := e.Close()
	return buf.String(), err
}

func TestObjectWithScalars(t *testing.T) {
	got, err := encode(func(e *Encoder) {
		e.BeginObject("")
		e.AddString("name", "crash")
		e.AddUInt("count", 42)
		e.AddBool("fatal", true)
		e.AddNull("extra")
		e.EndContainer()
	})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"name":"crash","count":42,"fatal":true,"extra":null}`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNestedArray(t *testing.T) {
	got, err := encode(func(e *Encoder) {
		e.BeginObject("")
		e.BeginArray("items")
		e.AddInt("", 1)
		e.AddInt("", 2)
		e.EndContainer()
		e.EndContainer()
	})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"items":[1,2]}`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestUUIDFormat(t *testing.T) {
	var uuid [16]byte
	for i := range uuid {
		uuid[i] = byte(i)
	}
	got, err := encode(func(e *Encoder) {
		e.BeginObject("")
		e.AddUUID("id", uuid)
		e.EndContainer()
	})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"id":"00010203-0405-0607-0809-0a0b0c0d0e0f"}`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestAddJSONElementInvalidFallback(t *testing.T) {
	got, err := encode(func(e *Encoder) {
		e.BeginObject("")
		e.AddJSONElement("payload", []byte("not json"), false)
		e.EndContainer()
	})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains([]byte(got), []byte(`"error":"invalid JSON data"`)) {
		t.Fatalf("expected error fallback object, got %q", got)
	}
}

func TestAddJSONElementEmbedsValidFragment(t *testing.T) {
	got, err := encode(func(e *Encoder) {
		e.BeginObject("")
		e.AddJSONElement("payload", []byte(`{"a":1}`), false)
		e.EndContainer()
	})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"payload":{"a":1}}`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestStringEscaping(t *testing.T) {
	got, err := encode(func(e *Encoder) {
		e.BeginObject("")
		e.AddString("msg", "line1\nline2\t\"quoted\"")
		e.EndContainer()
	})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"msg":"line1\nline2\t\"quoted\""}`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
