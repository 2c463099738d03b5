package protocol

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	// CRCSize is the size of the integrity trailer ending every message.
	CRCSize = 4
	// MaxMessageSize caps a single message including its trailer.
	MaxMessageSize = 64 * 1024
	// MinMessageSize is an opcode plus the trailer.
	MinMessageSize = 4 + CRCSize
)

// Message is one protocol message. Its logical length includes the CRC
// trailer. A Message is owned by exactly one party at a time: after Send or
// after handing it to Process the caller must not touch it again.
type Message struct {
	buf    []byte
	length int
}

// NewMessage allocates an empty message with room for capacity bytes,
// capped at MaxMessageSize. Producers set the length with Resize.
func NewMessage(capacity int) (*Message, error) {
	if capacity < 0 {
		return nil, errors.Wrapf(ErrMessageSize, "capacity %d", capacity)
	}
	if capacity > MaxMessageSize {
		capacity = MaxMessageSize
	}
	return &Message{buf: make([]byte, capacity)}, nil
}

// MessageFromBytes wraps a received buffer. The message takes ownership of
// b. No verification happens here; run the engines' gate before reading
// any field.
func MessageFromBytes(b []byte) (*Message, error) {
	if len(b) > MaxMessageSize {
		return nil, errors.Wrapf(ErrMessageSize, "received %d bytes", len(b))
	}
	return &Message{buf: b, length: len(b)}, nil
}

// Resize changes the logical length. It never grows past the capacity.
func (m *Message) Resize(length int) error {
	if length < 0 || length > len(m.buf) {
		return errors.Wrapf(ErrMessageSize, "resize to %d with capacity %d", length, len(m.buf))
	}
	m.length = length
	return nil
}

// Len is the logical length including the trailer.
func (m *Message) Len() int { return m.length }

// Cap is the allocated size.
func (m *Message) Cap() int { return len(m.buf) }

// Bytes returns the logical content including the trailer.
func (m *Message) Bytes() []byte { return m.buf[:m.length] }

// Clone returns an independent copy of m.
func (m *Message) Clone() *Message {
	buf := make([]byte, m.length)
	copy(buf, m.buf[:m.length])
	return &Message{buf: buf, length: m.length}
}

// VerifyLength reports whether the message holds at least min bytes.
func (m *Message) VerifyLength(min int) bool {
	return m != nil && m.length >= min
}

// VerifyField reports whether the named field of layout is fully present
// in front of the CRC trailer.
func (m *Message) VerifyField(layout *Layout, field string) bool {
	f, ok := layout.Field(field)
	if !ok {
		return false
	}
	return m.VerifyLength(f.Offset + f.Size + CRCSize)
}

// Opcode returns the message type, or 0 if the message is too short to
// carry one.
func (m *Message) Opcode() Opcode {
	if !m.VerifyField(LayoutGeneral, "type") {
		return 0
	}
	return Opcode(binary.BigEndian.Uint32(m.buf))
}

// tail returns the variable-length part starting at the field up to the
// CRC trailer.
func (m *Message) tail(layout *Layout, field string) []byte {
	f, _ := layout.Field(field)
	return m.buf[f.Offset : m.length-CRCSize]
}

func (m *Message) get32(layout *Layout, field string) uint32 {
	f, _ := layout.Field(field)
	return binary.BigEndian.Uint32(m.buf[f.Offset:])
}

func (m *Message) get64(layout *Layout, field string) uint64 {
	f, _ := layout.Field(field)
	return binary.BigEndian.Uint64(m.buf[f.Offset:])
}

func (m *Message) put32(layout *Layout, field string, v uint32) {
	f, _ := layout.Field(field)
	binary.BigEndian.PutUint32(m.buf[f.Offset:], v)
}

func (m *Message) put64(layout *Layout, field string, v uint64) {
	f, _ := layout.Field(field)
	binary.BigEndian.PutUint64(m.buf[f.Offset:], v)
}

// allocate builds a message for layout with a tail of extra bytes and sets
// the opcode.
func allocate(layout *Layout, op Opcode, extra int) (*Message, error) {
	size := layout.Size() + extra + CRCSize
	if size > MaxMessageSize {
		return nil, errors.Wrapf(ErrMessageSize, "%s with %d payload bytes", op, extra)
	}
	m, err := NewMessage(size)
	if err != nil {
		return nil, err
	}
	if err := m.Resize(size); err != nil {
		return nil, err
	}
	m.put32(layout, "type", uint32(op))
	return m, nil
}
