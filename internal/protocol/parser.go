package protocol

import (
	"encoding/binary"
	"fmt"
)

// Reader decodes primitive and string fields from a payload. Every read
// returns an error instead of panicking when the payload is exhausted.
type Reader struct {
	data  []byte
	pos   int
	order binary.ByteOrder
}

// NewReader creates a little-endian Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data, order: binary.LittleEndian}
}

// NewBigEndianReader creates a Reader that decodes multi-byte integers big-endian.
func NewBigEndianReader(data []byte) *Reader {
	return &Reader{data: data, order: binary.BigEndian}
}

func (r *Reader) next(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, n, r.pos, r.Remaining())
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadByte reads a single byte.
func (r *Reader) ReadByte() (byte, error) {
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadInt16 reads an int16.
func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

// ReadUint16 reads a uint16.
func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.next(2)
	if err != nil {
		return 0, err
	}
	return r.order.Uint16(b), nil
}

// ReadInt32 reads an int32.
func (r *Reader) ReadInt32() (int32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return int32(r.order.Uint32(b)), nil
}

// ReadString reads a string written by Writer.WriteString.
// Format: [int16 byteLength][utf8 bytes]
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadInt16()
	if err != nil {
		return "", fmt.Errorf("read string length: %w", err)
	}
	if n <= 0 {
		return "", nil
	}
	b, err := r.next(int(n))
	if err != nil {
		return "", fmt.Errorf("read string body: %w", err)
	}
	return string(b), nil
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

// FrameAssembler reassembles frames from an arbitrarily chunked byte
// stream. Its accumulator grows by doubling and never shrinks; consumed
// bytes are compacted to the front after every Feed. It is not safe for
// concurrent use.
type FrameAssembler struct {
	buf    []byte
	length int
}

// NewFrameAssembler creates an assembler with the given initial capacity.
func NewFrameAssembler(capacity int) *FrameAssembler {
	if capacity < HeaderSize {
		capacity = HeaderSize
	}
	return &FrameAssembler{buf: make([]byte, capacity)}
}

// Len returns the number of buffered, not yet consumed bytes.
func (a *FrameAssembler) Len() int {
	return a.length
}

// Cap returns the current accumulator capacity.
func (a *FrameAssembler) Cap() int {
	return len(a.buf)
}

// Reset discards buffered bytes. Capacity is kept.
func (a *FrameAssembler) Reset() {
	a.length = 0
}

// Feed appends chunk to the accumulator and returns every complete frame
// now available, in stream order. A length field below HeaderSize stops
// parsing and returns ErrInvalidFrameLength together with the frames
// decoded before it; the stream is unrecoverable after that.
func (a *FrameAssembler) Feed(chunk []byte) ([]Packet, error) {
	if need := a.length + len(chunk); need > len(a.buf) {
		a.grow(need)
	}
	copy(a.buf[a.length:], chunk)
	a.length += len(chunk)

	var (
		packets []Packet
		offset  int
		err     error
	)
	for a.length-offset >= HeaderSize {
		size := int(binary.LittleEndian.Uint16(a.buf[offset:]))
		if size < HeaderSize {
			err = fmt.Errorf("%w: %d at offset %d", ErrInvalidFrameLength, size, offset)
			break
		}
		if a.length-offset < size {
			break
		}

		payload := make([]byte, size-HeaderSize)
		copy(payload, a.buf[offset+HeaderSize:offset+size])
		packets = append(packets, Packet{
			Opcode:  a.buf[offset+LengthPrefixSize],
			Payload: payload,
		})
		offset += size
	}

	if offset > 0 {
		copy(a.buf, a.buf[offset:a.length])
		a.length -= offset
	}
	return packets, err
}

func (a *FrameAssembler) grow(minSize int) {
	size := len(a.buf) * 2
	if size == 0 {
		size = HeaderSize
	}
	for size < minSize {
		size *= 2
	}
	buf := make([]byte, size)
	copy(buf, a.buf[:a.length])
	a.buf = buf
}

// DecodeFrame splits one complete wire frame into its opcode and payload.
func DecodeFrame(frame []byte) (Packet, error) {
	if len(frame) < HeaderSize {
		return Packet{}, fmt.Errorf("%w: frame of %d bytes", ErrShortBuffer, len(frame))
	}
	size := int(binary.LittleEndian.Uint16(frame))
	if size < HeaderSize {
		return Packet{}, fmt.Errorf("%w: %d", ErrInvalidFrameLength, size)
	}
	if size != len(frame) {
		return Packet{}, fmt.Errorf("%w: declared %d, got %d", ErrShortBuffer, size, len(frame))
	}
	payload := make([]byte, size-HeaderSize)
	copy(payload, frame[HeaderSize:])
	return Packet{Opcode: frame[LengthPrefixSize], Payload: payload}, nil
}
