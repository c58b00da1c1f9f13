package frame

import (
	"encoding/binary"
	"errors"
)

const (
	// ConnectRequestSize is the encoded size of ConnectRequest.
	ConnectRequestSize = 4
	// ConnectResponseSize is the encoded size of ConnectResponse.
	ConnectResponseSize = 1
	// HandshakeSize is what the server reads for one handshake attempt.
	HandshakeSize = HeaderSize + ConnectRequestSize
)

// ErrInvalidHandshake is returned for a handshake frame that is malformed.
var ErrInvalidHandshake = errors.New("invalid handshake")

// ConnectRequest is the body of the first frame a client sends. A zero
// SessionID asks the server to assign one, which is only honoured when the
// server is configured to do so.
type ConnectRequest struct {
	SessionID uint32
}

// ConnectResponse is the body of the server's success reply.
type ConnectResponse struct {
	Accepted uint8
}

// EncodeHandshake builds the complete handshake frame for req.
func EncodeHandshake(req ConnectRequest) []byte {
	buf := make([]byte, HandshakeSize)
	EncodeHeader(buf, Header{
		SessionID: req.SessionID,
		Tag:       TagNone,
		Length:    ConnectRequestSize,
	})
	binary.LittleEndian.PutUint32(buf[HeaderSize:], req.SessionID)

	return buf
}

// DecodeHandshake parses a HandshakeSize frame. The header must be a
// TagNone frame declaring exactly ConnectRequestSize body bytes, and the
// header's session id must agree with the body.
//
// Parameters:
//   - src: Exactly HandshakeSize bytes read from the client
//
// Returns:
//   - The decoded request
//   - ErrInvalidHandshake if the frame is malformed
func DecodeHandshake(src []byte) (ConnectRequest, error) {
	if len(src) < HandshakeSize {
		return ConnectRequest{}, ErrInvalidHandshake
	}

	h, err := DecodeHeader(src)
	if err != nil {
		return ConnectRequest{}, ErrInvalidHandshake
	}

	if !h.IsNone() || h.Length != ConnectRequestSize {
		return ConnectRequest{}, ErrInvalidHandshake
	}

	req := ConnectRequest{SessionID: binary.LittleEndian.Uint32(src[HeaderSize:HandshakeSize])}
	if req.SessionID != h.SessionID {
		return ConnectRequest{}, ErrInvalidHandshake
	}

	return req, nil
}

// EncodeConnectResponse returns the body of a success reply.
func EncodeConnectResponse(resp ConnectResponse) []byte {
	return []byte{resp.Accepted}
}

// DecodeConnectResponse parses the body of a success reply. Any body other
// than a single non-zero byte is rejected.
//
// Parameters:
//   - src: The reply body
//
// Returns:
//   - The decoded response
//   - ErrInvalidHandshake if the body is malformed or not an acceptance
func DecodeConnectResponse(src []byte) (ConnectResponse, error) {
	if len(src) != ConnectResponseSize || src[0] == 0 {
		return ConnectResponse{}, ErrInvalidHandshake
	}

	return ConnectResponse{Accepted: src[0]}, nil
}

// AcceptHeader is the header of a successful handshake reply for id.
func AcceptHeader(id uint32) Header {
	return Header{SessionID: id, Tag: TagNone, Length: ConnectResponseSize}
}

// RejectHeader is a body-less reply carrying code.
func RejectHeader(id uint32, code ErrorCode) Header {
	return Header{SessionID: id, Tag: TagNone, ErrorCode: code}
}
