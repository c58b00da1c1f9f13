// Package frame defines the netserve wire format: a fixed 16-byte header
// followed by Length body bytes, the handshake records exchanged before
// framed traffic starts, and the body codecs handlers use to turn payloads
// into bytes.
//
// Header layout (little-endian, no padding):
//
//	----------------------------------------------------
//	|    4      |   4   |    4     |     4      |  n   |
//	----------------------------------------------------
//	| sessionID |  tag  |  length  | error code | body |
//	----------------------------------------------------
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed encoded size of Header. Both peers must agree on it.
const HeaderSize = 16

// DefaultMaxFrameSize bounds Header.Length unless configured otherwise.
const DefaultMaxFrameSize = 1 << 20

// TagNone marks a frame with no dispatchable payload (handshake, keepalive).
const TagNone uint32 = 0

var (
	// ErrShortHeader is returned when fewer than HeaderSize bytes are decoded.
	ErrShortHeader = errors.New("short header")
	// ErrFrameTooLarge is returned when a header declares a body above the limit.
	ErrFrameTooLarge = errors.New("frame too large")
)

// Header precedes every frame body.
type Header struct {
	SessionID uint32
	Tag       uint32
	Length    uint32
	ErrorCode ErrorCode
}

// IsNone reports whether the frame carries nothing to dispatch.
func (h Header) IsNone() bool {
	return h.Tag == TagNone
}

// Validate checks Length against maxSize (DefaultMaxFrameSize when <= 0).
func (h Header) Validate(maxSize int) error {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}

	if uint64(h.Length) > uint64(maxSize) {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, h.Length, maxSize)
	}

	return nil
}

// EncodeHeader writes h into dst, which must hold at least HeaderSize bytes.
//
// Parameters:
//   - dst: Destination slice
//   - h: Header to encode
func EncodeHeader(dst []byte, h Header) {
	_ = dst[HeaderSize-1]
	binary.LittleEndian.PutUint32(dst[0:4], h.SessionID)
	binary.LittleEndian.PutUint32(dst[4:8], h.Tag)
	binary.LittleEndian.PutUint32(dst[8:12], h.Length)
	binary.LittleEndian.PutUint32(dst[12:16], uint32(h.ErrorCode))
}

// DecodeHeader parses the first HeaderSize bytes of src.
//
// Parameters:
//   - src: Encoded header bytes
//
// Returns:
//   - The decoded Header
//   - ErrShortHeader if src is too small
func DecodeHeader(src []byte) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, ErrShortHeader
	}

	return Header{
		SessionID: binary.LittleEndian.Uint32(src[0:4]),
		Tag:       binary.LittleEndian.Uint32(src[4:8]),
		Length:    binary.LittleEndian.Uint32(src[8:12]),
		ErrorCode: ErrorCode(binary.LittleEndian.Uint32(src[12:16])),
	}, nil
}
