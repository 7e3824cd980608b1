package statushttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/twizzy/bridge/internal/bridge"
)

type fakeSource struct {
	state   bridge.ConnectionState
	gaveUp  bool
	lastErr error
	resumed int
}

func (f *fakeSource) State() bridge.ConnectionState { return f.state }
func (f *fakeSource) GaveUp() bool                  { return f.gaveUp }
func (f *fakeSource) LastError() error              { return f.lastErr }
func (f *fakeSource) Resume()                       { f.resumed++ }

func TestStatusEndpoint(t *testing.T) {
	src := &fakeSource{state: bridge.Connected, lastErr: errors.New("dial tcp: refused")}
	srv := httptest.NewServer(Handler(Options{Source: src, ClientID: "abc", ClientName: "desktop"}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.State != "connected" || snap.GaveUp || snap.ClientID != "abc" {
		t.Fatalf("snapshot %+v", snap)
	}
	if !strings.Contains(snap.LastError, "refused") {
		t.Fatalf("last error %q", snap.LastError)
	}
}

func TestVersionEndpoint(t *testing.T) {
	srv := httptest.NewServer(Handler(Options{
		Source:  &fakeSource{},
		Version: VersionInfo{Version: "1.2.3", BuildSHA: "abcdef0"},
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/version")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var v VersionInfo
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Version != "1.2.3" || v.BuildSHA != "abcdef0" {
		t.Fatalf("version %+v", v)
	}
}

func TestResumeControl(t *testing.T) {
	src := &fakeSource{state: bridge.Disconnected, gaveUp: true}
	srv := httptest.NewServer(Handler(Options{Source: src}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/control/resume", "", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if src.resumed != 1 {
		t.Fatalf("resumed %d times", src.resumed)
	}
}

func TestResumeRequiresPost(t *testing.T) {
	srv := httptest.NewServer(Handler(Options{Source: &fakeSource{}}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/control/resume")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestServeUntilContextShutsDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	addr, err := Start(ctx, "127.0.0.1:0", Options{Source: &fakeSource{}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	resp, err := http.Get("http://" + addr + "/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := http.Get("http://" + addr + "/status"); err != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("server still reachable after cancel")
}
