// Package transport owns the raw connection to the agent daemon. Two
// instantiations exist: a byte-stream Unix socket with newline framing and a
// message-oriented WebSocket. Both yield whole frames; framing is invisible
// above this package.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport closed")

// Conn is one live connection. Receive must have a single caller for the
// lifetime of the connection; it returns io.EOF on graceful peer close and a
// non-nil error on abnormal close. Send serializes concurrent callers so two
// frames are never interleaved on the wire. Close is idempotent and unblocks
// a pending Receive.
type Conn interface {
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer establishes connections. The reconnect supervisor dials a fresh
// Conn per attempt and fully closes the old one first, so at most one Conn
// is live at a time.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}
