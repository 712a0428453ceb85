// Package record implements the self-describing, positionally-addressed
// binary layout every grid-store value is encoded with.
//
// A record is a flat byte buffer: the writer appends payload blocks one
// after another, then appends a small root scalar that points at whichever
// block holds the top-level value. A reader locates the root by reading
// the last few bytes of the buffer (its size never varies), then follows
// the offsets it finds from there. Three vector encodings are supported:
//
//   - FixedVec[T]: a varint length followed by len*sizeof(T) bytes, used
//     when every element has the same, statically-known size (uint32 ids).
//   - VarVec[T]: a varint length followed by that many self-delimiting
//     elements, each decode call reporting how many bytes it consumed.
//   - UniformVec[T]: a varint length, a single byte giving the maximum
//     encoded size of any element (capped at 255), then that many
//     fixed-width slots; elements smaller than the slot are zero-padded,
//     elements that would overflow it are truncated to fit.
//
// All integers are little-endian.
package record

import (
	"encoding/binary"
	"fmt"
)

// rootSize is the width, in bytes, of the root pointer appended by Finish
// and read back by Root. It is also how a Reader locates the root without
// any other framing: it is always the last rootSize bytes of the buffer.
// Offsets throughout the format are u32, so this is 4, not 8.
const rootSize = 4

// FixedCodec describes a type with a statically-known encoded size.
type FixedCodec[T any] interface {
	Size() int
	Encode(v T) []byte
	Decode(b []byte) (T, error)
}

// VarCodec describes a self-delimiting encoding: Decode reports how many
// bytes of b it consumed so the caller can advance past it.
type VarCodec[T any] interface {
	Encode(v T) []byte
	Decode(b []byte) (v T, consumed int, err error)
}

// UniformCodec describes an encoding whose elements share one padded or
// truncated slot width, computed by the writer as the largest natural size
// across the vector being written (see EncodeUniformVec).
type UniformCodec[T any] interface {
	// NaturalSize is the size v would take with no padding or truncation.
	NaturalSize(v T) int
	// EncodeWithSize encodes v into exactly size bytes, padding with zeros
	// or truncating variable-length tail fields as needed.
	EncodeWithSize(v T, size int) []byte
	Decode(b []byte) (T, error)
}

// Uint32Codec is the FixedCodec for little-endian uint32 elements, used for
// the id lists that make up a Coord's FixedVec.
type Uint32Codec struct{}

func (Uint32Codec) Size() int { return 4 }

func (Uint32Codec) Encode(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func (Uint32Codec) Decode(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("record: short fixed uint32 (%d bytes)", len(b))
	}
	return binary.LittleEndian.Uint32(b[:4]), nil
}

// EncodeFixedVec writes a varint length followed by the concatenated
// fixed-size encoding of each element.
func EncodeFixedVec[T any](codec FixedCodec[T], items []T) []byte {
	out := binary.AppendUvarint(nil, uint64(len(items)))
	for _, it := range items {
		out = append(out, codec.Encode(it)...)
	}
	return out
}

// DecodeFixedVec reads back a FixedVec written by EncodeFixedVec, returning
// the elements and the number of bytes consumed from b.
func DecodeFixedVec[T any](codec FixedCodec[T], b []byte) ([]T, int, error) {
	n, nb := binary.Uvarint(b)
	if nb <= 0 {
		return nil, 0, fmt.Errorf("record: invalid fixed-vec length varint")
	}
	pos := nb
	size := codec.Size()
	items := make([]T, 0, n)
	for i := uint64(0); i < n; i++ {
		if pos+size > len(b) {
			return nil, 0, fmt.Errorf("record: truncated fixed-vec element %d/%d", i, n)
		}
		v, err := codec.Decode(b[pos : pos+size])
		if err != nil {
			return nil, 0, err
		}
		items = append(items, v)
		pos += size
	}
	return items, pos, nil
}

// EncodeVarVec writes a varint length followed by each element's
// self-delimiting encoding, back to back.
func EncodeVarVec[T any](codec VarCodec[T], items []T) []byte {
	out := binary.AppendUvarint(nil, uint64(len(items)))
	for _, it := range items {
		out = append(out, codec.Encode(it)...)
	}
	return out
}

// DecodeVarVec reads back a VarVec written by EncodeVarVec.
func DecodeVarVec[T any](codec VarCodec[T], b []byte) ([]T, int, error) {
	n, nb := binary.Uvarint(b)
	if nb <= 0 {
		return nil, 0, fmt.Errorf("record: invalid var-vec length varint")
	}
	pos := nb
	items := make([]T, 0, n)
	for i := uint64(0); i < n; i++ {
		v, consumed, err := codec.Decode(b[pos:])
		if err != nil {
			return nil, 0, fmt.Errorf("record: var-vec element %d/%d: %w", i, n, err)
		}
		items = append(items, v)
		pos += consumed
	}
	return items, pos, nil
}

// EncodeUniformVec writes a varint length, a one-byte max record size, then
// each element padded or truncated to that size.
func EncodeUniformVec[T any](codec UniformCodec[T], items []T) ([]byte, error) {
	recSize := 0
	for _, it := range items {
		if s := codec.NaturalSize(it); s > recSize {
			recSize = s
		}
	}
	if recSize > 255 {
		return nil, fmt.Errorf("record: uniform-vec record size %d exceeds 255", recSize)
	}
	out := binary.AppendUvarint(nil, uint64(len(items)))
	out = append(out, byte(recSize))
	for _, it := range items {
		rec := codec.EncodeWithSize(it, recSize)
		if len(rec) != recSize {
			return nil, fmt.Errorf("record: uniform codec returned %d bytes, want %d", len(rec), recSize)
		}
		out = append(out, rec...)
	}
	return out, nil
}

// DecodeUniformVec reads back a UniformVec written by EncodeUniformVec.
func DecodeUniformVec[T any](codec UniformCodec[T], b []byte) ([]T, int, error) {
	n, nb := binary.Uvarint(b)
	if nb <= 0 {
		return nil, 0, fmt.Errorf("record: invalid uniform-vec length varint")
	}
	if nb >= len(b) {
		return nil, 0, fmt.Errorf("record: truncated uniform-vec header")
	}
	recSize := int(b[nb])
	pos := nb + 1
	items := make([]T, 0, n)
	for i := uint64(0); i < n; i++ {
		if pos+recSize > len(b) {
			return nil, 0, fmt.Errorf("record: truncated uniform-vec element %d/%d", i, n)
		}
		v, err := codec.Decode(b[pos : pos+recSize])
		if err != nil {
			return nil, 0, err
		}
		items = append(items, v)
		pos += recSize
	}
	return items, pos, nil
}

// Writer accumulates payload blocks at successive offsets and finishes by
// appending a root pointer to whichever block is the top-level value.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// WriteBlock appends raw, already-encoded bytes as one block and returns
// its offset.
func (w *Writer) WriteBlock(b []byte) uint64 {
	offset := uint64(len(w.buf))
	w.buf = append(w.buf, b...)
	return offset
}

// Finish appends the root pointer and returns the complete record.
func (w *Writer) Finish(root uint32) []byte {
	out := make([]byte, len(w.buf)+rootSize)
	copy(out, w.buf)
	binary.LittleEndian.PutUint32(out[len(w.buf):], root)
	return out
}

// Reader wraps a decoded record buffer for block lookups by offset.
type Reader struct {
	buf []byte
}

// NewReader validates that b is at least large enough to hold a root
// pointer and wraps it.
func NewReader(b []byte) (*Reader, error) {
	if len(b) < rootSize {
		return nil, fmt.Errorf("record: buffer too short (%d bytes) to hold a root pointer", len(b))
	}
	return &Reader{buf: b}, nil
}

// Root returns the offset of the top-level block.
func (r *Reader) Root() uint32 {
	return binary.LittleEndian.Uint32(r.buf[len(r.buf)-rootSize:])
}

// Block returns the bytes starting at offset, up to (but not including)
// the trailing root pointer.
func (r *Reader) Block(offset uint64) ([]byte, error) {
	payload := r.buf[:len(r.buf)-rootSize]
	if offset > uint64(len(payload)) {
		return nil, fmt.Errorf("record: offset %d beyond payload length %d", offset, len(payload))
	}
	return payload[offset:], nil
}
