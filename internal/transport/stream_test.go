package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"
)

func TestStreamReceiveBuffersPartialFrames(t *testing.T) {
	client, server := net.Pipe()
	sc := newStreamConn(client)
	defer func() { _ = sc.Close() }()

	go func() {
		// Deliver one frame in two writes; the reader must not emit until the
		// newline arrives.
		_, _ = server.Write([]byte(`{"jsonrpc":"2.0","re`))
		time.Sleep(20 * time.Millisecond)
		_, _ = server.Write([]byte("sult\":\"ok\",\"id\":1}\n"))
	}()

	got, err := sc.Receive(context.Background())
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	want := `{"jsonrpc":"2.0","result":"ok","id":1}`
	if string(got) != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestStreamReceiveSplitsMultipleFrames(t *testing.T) {
	client, server := net.Pipe()
	sc := newStreamConn(client)
	defer func() { _ = sc.Close() }()

	go func() {
		_, _ = server.Write([]byte("{\"id\":1}\n{\"id\":2}\n"))
	}()

	for i := 1; i <= 2; i++ {
		got, err := sc.Receive(context.Background())
		if err != nil {
			t.Fatalf("receive %d: %v", i, err)
		}
		want := fmt.Sprintf(`{"id":%d}`, i)
		if string(got) != want {
			t.Fatalf("frame %d: got %q", i, got)
		}
	}
}

func TestStreamReceiveEOFOnPeerClose(t *testing.T) {
	client, server := net.Pipe()
	sc := newStreamConn(client)
	defer func() { _ = sc.Close() }()

	go func() { _ = server.Close() }()

	if _, err := sc.Receive(context.Background()); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestStreamConcurrentSendsDoNotInterleave(t *testing.T) {
	client, server := net.Pipe()
	sc := newStreamConn(client)
	defer func() { _ = sc.Close() }()

	const n = 20
	lines := make(chan string, n)
	done := make(chan struct{})
	go func() {
		defer close(done)
		rd := bufio.NewReader(server)
		for i := 0; i < n; i++ {
			line, err := rd.ReadString('\n')
			if err != nil {
				t.Errorf("server read: %v", err)
				return
			}
			lines <- line[:len(line)-1]
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			frame := fmt.Sprintf(`{"method":"chat","id":%d}`, i)
			if err := sc.Send(context.Background(), []byte(frame)); err != nil {
				t.Errorf("send %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	<-done

	close(lines)
	var got []string
	for l := range lines {
		got = append(got, l)
	}
	sort.Strings(got)
	if len(got) != n {
		t.Fatalf("expected %d frames, got %d", n, len(got))
	}
	for _, l := range got {
		var id int
		if _, err := fmt.Sscanf(l, `{"method":"chat","id":%d}`, &id); err != nil {
			t.Fatalf("interleaved frame %q", l)
		}
	}
}

func TestStreamSendAfterClose(t *testing.T) {
	client, _ := net.Pipe()
	sc := newStreamConn(client)
	if err := sc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := sc.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := sc.Send(context.Background(), []byte("{}")); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestStreamDialerUnixSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		rd := bufio.NewReader(c)
		line, err := rd.ReadString('\n')
		if err != nil {
			return
		}
		_, _ = c.Write([]byte("echo:" + line))
	}()

	conn, err := StreamDialer{Path: path, Timeout: time.Second}.Dial(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.Send(context.Background(), []byte("ping")); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := conn.Receive(context.Background())
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if string(got) != "echo:ping" {
		t.Fatalf("got %q", got)
	}
}

func TestStreamDialerFailsFast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.sock")
	if _, err := (StreamDialer{Path: path, Timeout: time.Second}).Dial(context.Background()); err == nil {
		t.Fatal("expected dial error for missing socket")
	}
}
