// Package protocol implements the binary wire protocol spoken between the
// login client and the login server. Every frame carries a 2-byte
// little-endian length (covering itself), a 1-byte opcode and the payload.
package protocol

import "errors"

// Opcodes sent by the client.
const (
	OpAuthGG byte = 0x10 // Session id + device snapshot
)

// Opcodes sent by the server.
const (
	OpInit          byte = 0x02 // Session id assignment
	OpLoginResponse byte = 0x11 // Login accepted or rejected
)

// MaxPacketSize is the largest value the length field can carry.
const MaxPacketSize = 65535

// LengthPrefixSize is the size of the length prefix in bytes.
const LengthPrefixSize = 2

// HeaderSize is the length prefix plus the opcode byte. It is also the
// smallest valid value of the length field.
const HeaderSize = LengthPrefixSize + 1

var (
	// ErrShortBuffer is returned when a field extends past the end of the payload.
	ErrShortBuffer = errors.New("protocol: short buffer")

	// ErrInvalidFrameLength is returned when a frame declares a length below HeaderSize.
	ErrInvalidFrameLength = errors.New("protocol: invalid frame length")

	// ErrFrameTooLarge is returned when an encoded frame would not fit the length field.
	ErrFrameTooLarge = errors.New("protocol: frame too large")

	// ErrStringTooLong is returned when a string does not fit its int16 length prefix.
	ErrStringTooLong = errors.New("protocol: string too long")
)

// Packet is a decoded frame: one opcode and its payload.
type Packet struct {
	Opcode  byte
	Payload []byte
}

// ClientPacket is a message that knows its opcode and how to serialize its
// payload. The login server stub in tests encodes server messages through
// the same contract.
type ClientPacket interface {
	Opcode() byte
	Write(w *Writer) error
}
