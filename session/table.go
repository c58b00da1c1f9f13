package session

import (
	"errors"
	"fmt"

	"github.com/cyberinferno/go-netserve/safemap"
)

// ErrDuplicateSession is returned by Install under RejectNew when a live
// session already owns the id.
var ErrDuplicateSession = errors.New("duplicate session")

// DuplicatePolicy decides what happens when a connect claims an id that a
// live session already owns.
type DuplicatePolicy int

const (
	// EvictExisting closes the old session and installs the new one
	// (last writer wins).
	EvictExisting DuplicatePolicy = iota
	// RejectNew keeps the old session and refuses the new connection.
	RejectNew
)

// String returns a human-readable name for the policy.
func (p DuplicatePolicy) String() string {
	switch p {
	case EvictExisting:
		return "evict-existing"
	case RejectNew:
		return "reject-new"
	default:
		return fmt.Sprintf("DuplicatePolicy(%d)", int(p))
	}
}

// ParseDuplicatePolicy maps the String form back to a policy.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch s {
	case "evict-existing", "evict":
		return EvictExisting, nil
	case "reject-new", "reject":
		return RejectNew, nil
	default:
		return 0, fmt.Errorf("unknown duplicate policy %q", s)
	}
}

// Table owns live sessions by id. Every mutation is a single atomic map
// operation, so a connect and a concurrent disconnect of the same id can
// never lose an update or leave two live entries.
type Table struct {
	sessions *safemap.SafeMap[uint32, *Session]
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{sessions: safemap.NewSafeMap[uint32, *Session]()}
}

// Install adds s under its id according to policy.
//
// Parameters:
//   - s: The freshly established session
//   - policy: What to do if the id is already taken
//
// Returns:
//   - The session that was evicted and closed, if any
//   - ErrDuplicateSession if policy is RejectNew and a live session owns the id
func (t *Table) Install(s *Session, policy DuplicatePolicy) (*Session, error) {
	if policy == RejectNew {
		return t.installOrReject(s)
	}

	old, loaded := t.sessions.Swap(s.ID(), s)
	if !loaded || old == s {
		return nil, nil
	}

	_ = old.Close()
	return old, nil
}

func (t *Table) installOrReject(s *Session) (*Session, error) {
	for {
		current, loaded := t.sessions.LoadOrStore(s.ID(), s)
		if !loaded || current == s {
			return nil, nil
		}

		if current.Connected() {
			return nil, ErrDuplicateSession
		}

		// Stale entry whose receive loop has not removed it yet.
		if t.sessions.CompareAndSwap(s.ID(), current, s) {
			return current, nil
		}
	}
}

// Remove deletes s only if it is still the table's entry for its id, so the
// receive loop of an evicted session never removes its successor.
//
// Returns:
//   - true if s was removed
func (t *Table) Remove(s *Session) bool {
	return t.sessions.CompareAndDelete(s.ID(), s)
}

// Get returns the live entry for id.
func (t *Table) Get(id uint32) (*Session, bool) {
	return t.sessions.Load(id)
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return t.sessions.Len()
}

// Range calls f for each session until f returns false.
func (t *Table) Range(f func(s *Session) bool) {
	t.sessions.Range(func(_ uint32, s *Session) bool {
		return f(s)
	})
}

// CloseAll removes and closes every session.
//
// Returns:
//   - The joined close errors, if any
func (t *Table) CloseAll() error {
	var errs []error

	t.sessions.Range(func(id uint32, s *Session) bool {
		if t.sessions.CompareAndDelete(id, s) {
			if err := s.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close session %d: %w", id, err))
			}
		}

		return true
	})

	return errors.Join(errs...)
}
