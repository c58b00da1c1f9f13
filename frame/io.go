package frame

import (
	"errors"
	"fmt"
	"io"

	"github.com/cyberinferno/go-netserve/bufpool"
)

// ErrDisconnected signals that the peer closed the stream, either before a
// frame started or in the middle of one.
var ErrDisconnected = errors.New("peer disconnected")

// Frame is one decoded header plus its pooled body. Body is nil when
// Header.Length is zero.
type Frame struct {
	Header Header
	Body   *bufpool.Buffer
}

// Payload returns the body bytes (nil for an empty frame).
func (f *Frame) Payload() []byte {
	if f.Body == nil {
		return nil
	}

	return f.Body.Bytes()
}

// Release returns the body to its pool.
func (f *Frame) Release() {
	f.Body.Release()
	f.Body = nil
}

// ReadFull reads exactly len(buf) bytes, looping over partial reads. A
// stream that ends early, with zero or some bytes, yields ErrDisconnected.
func ReadFull(r io.Reader, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: %w", ErrDisconnected, err)
		}

		return err
	}

	return nil
}

// ReadFrame reads one header and exactly Header.Length body bytes into a
// buffer rented from pool. On error nothing stays rented.
//
// Parameters:
//   - r: The stream to read from
//   - pool: Buffer pool for header and body
//   - maxSize: Upper bound for Header.Length
//
// Returns:
//   - The frame; the caller must Release it
//   - ErrDisconnected, ErrFrameTooLarge or the underlying read error
func ReadFrame(r io.Reader, pool *bufpool.Pool, maxSize int) (*Frame, error) {
	hb := pool.Rent(HeaderSize)
	defer hb.Release()

	if err := ReadFull(r, hb.Bytes()); err != nil {
		return nil, err
	}

	h, err := DecodeHeader(hb.Bytes())
	if err != nil {
		return nil, err
	}

	if err := h.Validate(maxSize); err != nil {
		return nil, err
	}

	f := &Frame{Header: h}
	if h.Length == 0 {
		return f, nil
	}

	f.Body = pool.Rent(int(h.Length))
	if err := ReadFull(r, f.Body.Bytes()); err != nil {
		f.Release()
		return nil, err
	}

	return f, nil
}

// WriteFrame writes header and body with a single Write call using a
// pooled scratch buffer. h.Length is overwritten with len(body).
//
// Parameters:
//   - w: Destination stream
//   - pool: Buffer pool for the scratch buffer
//   - h: Header to send
//   - body: Body bytes, may be nil
//
// Returns:
//   - The number of bytes written and any write error
func WriteFrame(w io.Writer, pool *bufpool.Pool, h Header, body []byte) (int, error) {
	h.Length = uint32(len(body))

	buf := pool.Rent(HeaderSize + len(body))
	defer buf.Release()

	EncodeHeader(buf.Bytes(), h)
	copy(buf.Bytes()[HeaderSize:], body)

	n, err := w.Write(buf.Bytes())
	if err == nil && n != buf.Len() {
		err = io.ErrShortWrite
	}

	return n, err
}
