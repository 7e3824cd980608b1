package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// WSDialer connects to the daemon's WebSocket endpoint. The channel is
// message oriented; no additional framing is applied.
type WSDialer struct {
	URL     string
	Timeout time.Duration
}

func (d WSDialer) Dial(ctx context.Context) (Conn, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	ws, _, err := websocket.Dial(ctx, d.URL, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn

	sendMu sync.Mutex

	closeMu sync.Mutex
	closed  bool
}

func (w *wsConn) Send(ctx context.Context, data []byte) error {
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	w.closeMu.Lock()
	closed := w.closed
	w.closeMu.Unlock()
	if closed {
		return ErrClosed
	}
	return w.ws.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Receive(ctx context.Context) ([]byte, error) {
	_, data, err := w.ws.Read(ctx)
	if err != nil {
		var ce websocket.CloseError
		if errors.As(err, &ce) && ce.Code == websocket.StatusNormalClosure {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

func (w *wsConn) Close() error {
	w.closeMu.Lock()
	defer w.closeMu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.ws.Close(websocket.StatusNormalClosure, "closing")
}
