package tcpserver

import (
	"errors"

	"github.com/cyberinferno/go-netserve/frame"
	"github.com/cyberinferno/go-netserve/session"
)

var (
	// ErrNilListener is returned by Start when no listener is given.
	ErrNilListener = errors.New("listener is nil")
	// ErrNilRegistry is returned by Start when the engine has no handler registry.
	ErrNilRegistry = errors.New("handler registry is nil")
	// ErrRegistryConfig is returned by Start in strict mode when handler
	// registrations were dropped.
	ErrRegistryConfig = errors.New("handler registry misconfigured")
	// ErrStartFailed wraps a failure while scheduling the background loops.
	ErrStartFailed = errors.New("engine start failed")
	// ErrInvalidSessionData is returned when a client exhausts its handshake attempts.
	ErrInvalidSessionData = errors.New("invalid session data")
	// ErrDisconnected is returned when the peer goes away mid-handshake or mid-frame.
	ErrDisconnected = frame.ErrDisconnected
	// ErrDuplicateSession is returned when a connect is rejected because the id is live.
	ErrDuplicateSession = session.ErrDuplicateSession
)
