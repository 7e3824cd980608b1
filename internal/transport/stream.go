package transport

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"sync"
	"time"
)

// StreamDialer connects to the daemon's Unix socket. Each frame is one JSON
// document terminated by a newline byte.
type StreamDialer struct {
	Path    string
	Timeout time.Duration
}

func (d StreamDialer) Dial(ctx context.Context) (Conn, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	c, err := nd.DialContext(ctx, "unix", d.Path)
	if err != nil {
		return nil, err
	}
	return newStreamConn(c), nil
}

type streamConn struct {
	conn net.Conn
	rd   *bufio.Reader

	sendMu sync.Mutex

	closeMu sync.Mutex
	closed  bool
}

func newStreamConn(c net.Conn) *streamConn {
	return &streamConn{conn: c, rd: bufio.NewReader(c)}
}

// Send writes the frame plus terminator as a single write under the send
// lock, so concurrent senders never interleave partial frames.
func (s *streamConn) Send(ctx context.Context, data []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.closeMu.Lock()
	closed := s.closed
	s.closeMu.Unlock()
	if closed {
		return ErrClosed
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(dl)
		defer func() { _ = s.conn.SetWriteDeadline(time.Time{}) }()
	}
	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, data...)
	buf = append(buf, '\n')
	_, err := s.conn.Write(buf)
	return err
}

// Receive buffers partial reads and emits one frame per observed newline.
// A zero-byte read surfaces as io.EOF from the buffered reader.
func (s *streamConn) Receive(ctx context.Context) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = s.conn.SetReadDeadline(dl)
		defer func() { _ = s.conn.SetReadDeadline(time.Time{}) }()
	}
	line, err := s.rd.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

func (s *streamConn) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}
