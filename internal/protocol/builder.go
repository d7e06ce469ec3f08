package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// Writer serializes primitive and string fields into a growing buffer.
// Little-endian is the default byte order.
type Writer struct {
	buf   bytes.Buffer
	order binary.ByteOrder
	err   error
}

// NewWriter creates a little-endian Writer.
func NewWriter() *Writer {
	return &Writer{order: binary.LittleEndian}
}

// NewBigEndianWriter creates a Writer that emits multi-byte integers big-endian.
func NewBigEndianWriter() *Writer {
	return &Writer{order: binary.BigEndian}
}

// WriteByte writes a single byte.
func (w *Writer) WriteByte(v byte) error {
	return w.buf.WriteByte(v)
}

// WriteInt16 writes an int16.
func (w *Writer) WriteInt16(v int16) {
	w.WriteUint16(uint16(v))
}

// WriteUint16 writes a uint16.
func (w *Writer) WriteUint16(v uint16) {
	var b [2]byte
	w.order.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

// WriteInt32 writes an int32.
func (w *Writer) WriteInt32(v int32) {
	var b [4]byte
	w.order.PutUint32(b[:], uint32(v))
	w.buf.Write(b[:])
}

// WriteString writes a length-prefixed UTF-8 string.
// Format: [int16 byteLength][utf8 bytes]. The empty string is a bare zero length.
func (w *Writer) WriteString(s string) error {
	if s == "" {
		w.WriteInt16(0)
		return nil
	}
	if !utf8.ValidString(s) {
		s = string([]rune(s))
	}
	if len(s) > math.MaxInt16 {
		w.err = fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(s))
		return w.err
	}
	w.WriteInt16(int16(len(s)))
	w.buf.WriteString(s)
	return nil
}

// Err returns the first error recorded while writing.
func (w *Writer) Err() error {
	return w.err
}

// Bytes returns the bytes written so far.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Frame wraps an opcode-prefixed body with the length field.
// The length covers the 2-byte prefix itself, so it equals len(body)+2.
func Frame(body []byte) ([]byte, error) {
	total := len(body) + LengthPrefixSize
	if total > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, total)
	}
	if total < HeaderSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidFrameLength, total)
	}
	frame := make([]byte, total)
	binary.LittleEndian.PutUint16(frame[:LengthPrefixSize], uint16(total))
	copy(frame[LengthPrefixSize:], body)
	return frame, nil
}

// EncodeBody serializes a client packet as opcode followed by its payload.
func EncodeBody(p ClientPacket) ([]byte, error) {
	w := NewWriter()
	w.WriteByte(p.Opcode())
	if err := p.Write(w); err != nil {
		return nil, fmt.Errorf("encode opcode 0x%02X: %w", p.Opcode(), err)
	}
	if err := w.Err(); err != nil {
		return nil, fmt.Errorf("encode opcode 0x%02X: %w", p.Opcode(), err)
	}
	return w.Bytes(), nil
}

// EncodeFrame serializes a client packet into a complete wire frame.
func EncodeFrame(p ClientPacket) ([]byte, error) {
	body, err := EncodeBody(p)
	if err != nil {
		return nil, err
	}
	return Frame(body)
}
