package frame

import "fmt"

// ErrorCode is carried in Header.ErrorCode; zero means success.
type ErrorCode uint32

const (
	ErrNone               ErrorCode = iota // No error
	ErrDuplicateSession                    // A live session already owns the requested id
	ErrInvalidSessionData                  // Handshake payload could not be decoded or was invalid
	ErrUnknownMessage                      // No handler is registered for the frame's tag
	ErrServerShutdown                      // The server is stopping and refuses new sessions
)

// String returns a human-readable name for the error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrNone:
		return "None"
	case ErrDuplicateSession:
		return "DuplicateSession"
	case ErrInvalidSessionData:
		return "InvalidSessionData"
	case ErrUnknownMessage:
		return "UnknownMessage"
	case ErrServerShutdown:
		return "ServerShutdown"
	default:
		return fmt.Sprintf("ErrorCode(%d)", uint32(c))
	}
}

// RejectError is what a client sees when the server answers with a
// non-zero error code.
type RejectError struct {
	Code ErrorCode
}

func (e *RejectError) Error() string {
	return "rejected by server: " + e.Code.String()
}

// Is lets errors.Is match on the code alone.
func (e *RejectError) Is(target error) bool {
	t, ok := target.(*RejectError)
	return ok && t.Code == e.Code
}
