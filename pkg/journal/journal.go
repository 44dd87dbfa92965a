// Package journal records the payloads decoded by stream processors so they
// can be listed after the fact.
//
// A journal is append-only. Entries are grouped by stream ID, a UUID assigned
// when a stream starts. Implementations must be safe for concurrent use.
package journal

import (
	"bytes"
	"context"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/MrWong99/ggwave-go/pkg/ggwave"
)

// Limits applied by [Query.Normalize].
const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

// Entry is one decoded message.
type Entry struct {
	// ID is assigned by the store on Append and increases monotonically.
	ID int64 `json:"id"`

	StreamID string `json:"stream_id"`

	// Seq is the message's position within its stream, starting at 1.
	Seq uint64 `json:"seq"`

	Payload []byte `json:"payload"`

	// Text is the payload as a string, minus fixed-length zero padding, when
	// what remains is valid UTF-8 without NUL bytes. Empty otherwise.
	Text string `json:"text,omitempty"`

	ReceivedAt time.Time `json:"received_at"`
}

// Query selects entries for [Store.Recent].
type Query struct {
	// StreamID restricts results to one stream. Empty matches all streams.
	StreamID string

	// Limit caps the number of results. Zero means DefaultLimit.
	Limit int
}

// Normalize clamps Limit into [1, MaxLimit], defaulting to DefaultLimit.
func (q Query) Normalize() Query {
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultLimit
	case q.Limit > MaxLimit:
		q.Limit = MaxLimit
	}
	return q
}

// Store persists decoded messages.
type Store interface {
	// Append stores e and returns it with ID set.
	Append(ctx context.Context, e Entry) (Entry, error)

	// Recent returns the newest entries matching q, oldest first.
	Recent(ctx context.Context, q Query) ([]Entry, error)
}

// NewStreamID returns a fresh stream identifier.
func NewStreamID() string { return uuid.NewString() }

// FromMessage builds the entry for a message decoded on streamID.
func FromMessage(streamID string, m ggwave.Message) Entry {
	e := Entry{
		StreamID:   streamID,
		Seq:        m.Seq,
		Payload:    m.Payload,
		ReceivedAt: m.ReceivedAt,
	}
	e.Text = textOf(m.Payload)
	return e
}

// textOf returns p as text if it is printable as such. Fixed-length payloads
// arrive zero padded; the padding is trimmed, any other NUL disqualifies p
// because text columns cannot store it.
func textOf(p []byte) string {
	p = bytes.TrimRight(p, "\x00")
	if bytes.IndexByte(p, 0) >= 0 || !utf8.Valid(p) {
		return ""
	}
	return string(p)
}
