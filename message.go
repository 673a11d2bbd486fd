package netasio

import (
	"bytes"
	"encoding/binary"
	"reflect"

	"github.com/pkg/errors"
)

// headerSize is the fixed on-wire size of MessageHeader: a 4-byte kind
// tag plus a 4-byte body length, both little-endian (spec §6).
const headerSize = 8

// MessageKind is the application-supplied enumeration carried in every
// MessageHeader. The library only requires that it round-trips as a
// uint32; embedding applications define their own named constants over
// this type the way a protocol's message-kind enum would in any other
// language.
type MessageKind uint32

// MessageHeader is the fixed 8-byte prefix of every framed message:
// the message kind and the number of payload bytes that follow it.
// Size is authoritative on the wire and is recomputed by the library on
// every mutation of the owning Message's body — never set it directly.
type MessageHeader struct {
	ID   MessageKind
	Size uint32
}

// Message is a typed, self-describing framed unit: a header plus an
// opaque payload. Push and Pop treat Body as a stack, not a stream: a
// sender that pushes a, b, c must be read by a receiver popping c, b, a.
// This lets the writer emit without tracking offsets, at the cost of
// requiring sender and receiver to agree on the reverse order — a
// design contract, not a bug (spec §4.1).
type Message struct {
	Header MessageHeader
	Body   []byte
}

// NewMessage returns an empty message of the given kind.
func NewMessage(kind MessageKind) *Message {
	return &Message{Header: MessageHeader{ID: kind}}
}

// Len reports the total number of bytes this message occupies on the
// wire: the 8-byte header plus the body.
func (m *Message) Len() int {
	return headerSize + len(m.Body)
}

// Push appends the fixed-layout wire encoding of value to the tail of
// the body and recomputes Header.Size from the new body length. V must
// have a fixed, well-defined encoding — a numeric type, a fixed-size
// array, or a struct composed entirely of such fields — the same
// "trivially copyable" requirement the original C++ API enforces with
// static_assert(is_standard_layout). Types without one (strings, maps,
// slices, interfaces) fail with ErrTypeNotByteCopyable.
func Push[V any](m *Message, value V) error {
	if t := reflect.TypeOf(value); t != nil && t.Kind() == reflect.Slice {
		return errors.Wrapf(ErrTypeNotByteCopyable, "push %T: slices have no fixed size", value)
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, value); err != nil {
		return errors.Wrapf(ErrTypeNotByteCopyable, "push %T: %v", value, err)
	}
	m.Body = append(m.Body, buf.Bytes()...)
	m.Header.Size = uint32(len(m.Body))
	return nil
}

// Pop removes sizeof(V)'s worth of bytes from the tail of the body,
// decodes them as V, and recomputes Header.Size from the shrunken body.
// Popping in the wrong order relative to Push silently yields whatever
// bytes are there — same as the stack contract the original API
// guarantees and nothing more. Popping more bytes than the body holds
// fails with ErrUnderflow and leaves the body unchanged.
func Pop[V any](m *Message) (V, error) {
	var zero V
	n := binary.Size(zero)
	if n < 0 {
		return zero, errors.Wrapf(ErrTypeNotByteCopyable, "pop %T", zero)
	}
	if len(m.Body) < n {
		return zero, errors.Wrapf(ErrUnderflow, "need %d bytes, have %d", n, len(m.Body))
	}
	tail := m.Body[len(m.Body)-n:]
	var out V
	if err := binary.Read(bytes.NewReader(tail), binary.LittleEndian, &out); err != nil {
		return zero, errors.Wrapf(ErrTypeNotByteCopyable, "pop %T: %v", zero, err)
	}
	m.Body = m.Body[:len(m.Body)-n]
	m.Header.Size = uint32(len(m.Body))
	return out, nil
}

// encodeHeader writes the 8-byte wire form of h into dst, which must be
// at least headerSize bytes long.
func encodeHeader(dst []byte, h MessageHeader) {
	binary.LittleEndian.PutUint32(dst[0:4], uint32(h.ID))
	binary.LittleEndian.PutUint32(dst[4:8], h.Size)
}

// decodeHeader parses the 8-byte wire form of a MessageHeader from src.
func decodeHeader(src []byte) MessageHeader {
	return MessageHeader{
		ID:   MessageKind(binary.LittleEndian.Uint32(src[0:4])),
		Size: binary.LittleEndian.Uint32(src[4:8]),
	}
}
