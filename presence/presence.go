// Package presence records which session ids are currently online and
// where, so application code can answer "is session N connected, and since
// when" without reaching into the engine. Trackers are advisory: the engine
// logs tracker failures and never fails a connect because of them.
package presence

import (
	"context"
	"fmt"
	"time"
)

// Record describes one online session.
type Record struct {
	SessionID  uint32    `json:"session_id"`
	RemoteAddr string    `json:"remote_addr"`
	Server     string    `json:"server"`
	Since      time.Time `json:"since"`
	// SinceMicro is Since in Unix microseconds. Stores compare it to decide
	// which of two connections for the same id is newer.
	SinceMicro int64 `json:"since_us"`
	// Token identifies this particular connection, so the offline call of an
	// evicted session cannot erase the record of its successor.
	Token string `json:"token"`
}

// supersedes reports whether cur belongs to a different, newer connection
// than rec.
func (cur Record) supersedes(rec Record) bool {
	return cur.Token != rec.Token && cur.SinceMicro > rec.SinceMicro
}

// NewRecord builds a Record with a token derived from server, id and since.
//
// Parameters:
//   - server: Name of the serving engine
//   - id: Session id
//   - remote: Peer address
//   - since: When the session was established
//
// Returns:
//   - The Record
func NewRecord(server string, id uint32, remote string, since time.Time) Record {
	return Record{
		SessionID:  id,
		RemoteAddr: remote,
		Server:     server,
		Since:      since,
		SinceMicro: since.UnixMicro(),
		Token:      fmt.Sprintf("%s/%d/%d", server, id, since.UnixNano()),
	}
}

// Tracker stores presence records.
type Tracker interface {
	// Online stores or refreshes rec. A record already stored for a newer
	// connection with the same id is left alone, so a late refresh from an
	// evicted session never replaces its successor.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - rec: The record to store
	//
	// Returns:
	//   - An error if the record could not be stored
	Online(ctx context.Context, rec Record) error

	// Offline removes rec, but only if the stored record still carries
	// rec.Token.
	//
	// Returns:
	//   - An error if the backend failed
	Offline(ctx context.Context, rec Record) error

	// Lookup returns the record for id.
	//
	// Returns:
	//   - The record and true if id is online
	//   - An error if the backend failed
	Lookup(ctx context.Context, id uint32) (Record, bool, error)

	// Count returns the number of online records.
	Count(ctx context.Context) (int, error)
}
