package tcpserver

import (
	"time"

	"github.com/cyberinferno/go-netserve/frame"
	"github.com/cyberinferno/go-netserve/session"
)

// Config holds the tunables of an Engine.
type Config struct {
	// Name identifies the engine in logs, metrics and presence records.
	Name string
	// ConnectQueueSize bounds accepted connections waiting for a handshake.
	ConnectQueueSize int
	// SendQueueSize bounds payloads waiting to be written.
	SendQueueSize int
	// MaxFrameSize bounds Header.Length of received frames.
	MaxFrameSize int
	// HandshakeTimeout is the read deadline of each handshake attempt.
	HandshakeTimeout time.Duration
	// HandshakeAttempts is how many invalid handshakes a still-connected
	// client may send before it is dropped.
	HandshakeAttempts int
	// WriteTimeout is the deadline of each frame write; 0 means none.
	WriteTimeout time.Duration
	// IdleTimeout closes sessions that send nothing for this long; 0 means never.
	IdleTimeout time.Duration
	// DuplicatePolicy decides between evicting the old session and
	// rejecting the new connection when an id is claimed twice.
	DuplicatePolicy session.DuplicatePolicy
	// AssignSessionIDs lets clients send id 0 to get a server-generated id.
	AssignSessionIDs bool
	// StrictRegistry makes Start fail when the registry dropped registrations.
	StrictRegistry bool
}

// DefaultConfig returns a Config with the reference sizing: a connect
// queue of 5, a send queue of 50, five handshake attempts and last-writer-wins
// duplicate handling.
//
// Returns:
//   - A Config with defaults: MaxFrameSize 1 MiB, HandshakeTimeout 10s,
//     WriteTimeout 10s, IdleTimeout 0, AssignSessionIDs false.
func DefaultConfig() Config {
	return Config{
		Name:              "netserve",
		ConnectQueueSize:  5,
		SendQueueSize:     50,
		MaxFrameSize:      frame.DefaultMaxFrameSize,
		HandshakeTimeout:  10 * time.Second,
		HandshakeAttempts: 5,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       0,
		DuplicatePolicy:   session.EvictExisting,
		AssignSessionIDs:  false,
		StrictRegistry:    false,
	}
}

// withDefaults fills zero-valued sizing fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()

	if c.Name == "" {
		c.Name = d.Name
	}

	if c.ConnectQueueSize <= 0 {
		c.ConnectQueueSize = d.ConnectQueueSize
	}

	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}

	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = d.MaxFrameSize
	}

	if c.HandshakeAttempts <= 0 {
		c.HandshakeAttempts = d.HandshakeAttempts
	}

	return c
}
