// Package statesave implements the spec's StateSave component: a binary
// container that concatenates named component snapshots, each prefixed
// by a little-endian uint64 length, in a fixed order.
//
// This replaces the teacher's JSON-based StateManager (internal/app/
// states.go) with the fixed-endianness, declared-field-order format the
// design calls for, which avoids coupling the save format to any single
// struct's in-memory layout.
package statesave

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Blob is a single component's serialized sub-state, paired with a name
// used only for diagnostics (the on-disk format is positional, not
// keyed, per spec.md §6.2: "CPU, PPU, APU, Cartridge sub-states, each
// prefixed by ... size").
type Blob struct {
	Name  string
	Bytes []byte
}

// Encode writes blobs to w in order, each as a little-endian uint64
// length followed by that many bytes.
func Encode(w io.Writer, blobs ...Blob) error {
	for _, b := range blobs {
		if err := binary.Write(w, binary.LittleEndian, uint64(len(b.Bytes))); err != nil {
			return fmt.Errorf("statesave: writing length for %s: %w", b.Name, err)
		}
		if _, err := w.Write(b.Bytes); err != nil {
			return fmt.Errorf("statesave: writing bytes for %s: %w", b.Name, err)
		}
	}
	return nil
}

// Decode reads len(names) blobs from r, in order, matching them against
// names for diagnostics. It returns the raw bytes for each, in the same
// order as names.
func Decode(r io.Reader, names ...string) ([][]byte, error) {
	out := make([][]byte, len(names))
	for i, name := range names {
		var size uint64
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, fmt.Errorf("statesave: reading length for %s: %w", name, err)
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("statesave: reading bytes for %s: %w", name, err)
		}
		out[i] = buf
	}
	return out, nil
}

// EncodeToBytes is a convenience wrapper for Encode that returns the
// resulting buffer directly; used by component SaveState methods that
// build a self-contained blob before being nested in an outer container.
func EncodeToBytes(blobs ...Blob) []byte {
	var buf bytes.Buffer
	_ = Encode(&buf, blobs...) // bytes.Buffer never fails to write
	return buf.Bytes()
}

// Writer is a small helper for declared-order, fixed-endianness field
// writes — the style spec.md §9 calls for ("every field is written in
// declared order with fixed endianness") instead of dumping raw struct
// memory.
type Writer struct {
	buf bytes.Buffer
	err error
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) U8(v uint8)   { w.write(v) }
func (w *Writer) U16(v uint16) { w.write(v) }
func (w *Writer) U32(v uint32) { w.write(v) }
func (w *Writer) U64(v uint64) { w.write(v) }
func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
	} else {
		w.U8(0)
	}
}
func (w *Writer) Bytes(v []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.buf.Write(v)
}

func (w *Writer) write(v any) {
	if w.err != nil {
		return
	}
	w.err = binary.Write(&w.buf, binary.LittleEndian, v)
}

// Bytes returns the accumulated buffer and any write error encountered.
func (w *Writer) Finish() ([]byte, error) { return w.buf.Bytes(), w.err }

// Reader is the Writer's mirror image for loading state back in the
// same declared order.
type Reader struct {
	r   *bytes.Reader
	err error
}

func NewReader(data []byte) *Reader { return &Reader{r: bytes.NewReader(data)} }

func (r *Reader) U8() uint8 {
	var v uint8
	r.read(&v)
	return v
}
func (r *Reader) U16() uint16 {
	var v uint16
	r.read(&v)
	return v
}
func (r *Reader) U32() uint32 {
	var v uint32
	r.read(&v)
	return v
}
func (r *Reader) U64() uint64 {
	var v uint64
	r.read(&v)
	return v
}
func (r *Reader) Bool() bool { return r.U8() != 0 }
func (r *Reader) Bytes(n int) []byte {
	buf := make([]byte, n)
	if r.err != nil {
		return buf
	}
	if _, err := io.ReadFull(r.r, buf); err != nil {
		r.err = err
	}
	return buf
}

func (r *Reader) read(v any) {
	if r.err != nil {
		return
	}
	r.err = binary.Read(r.r, binary.LittleEndian, v)
}

// Err returns the first error encountered during reads, if any.
func (r *Reader) Err() error { return r.err }
