package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestResolveConfigPath(t *testing.T) {
	tests := []struct {
		name        string
		goos        string
		home        string
		programData string
		want        string
	}{
		{
			name: "linux",
			goos: "linux",
			home: "/home/user",
			want: "/home/user/.config/twizzy/client.yaml",
		},
		{
			name: "darwin",
			goos: "darwin",
			home: "/Users/test",
			want: "/Users/test/Library/Application Support/twizzy/client.yaml",
		},
		{
			name:        "windows",
			goos:        "windows",
			programData: "C:\\ProgramData",
			want:        "C:/ProgramData/twizzy/client.yaml",
		},
		{
			name: "windows default ProgramData",
			goos: "windows",
			want: "C:/ProgramData/twizzy/client.yaml",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveConfigPath(tt.goos, tt.home, tt.programData, "client.yaml")
			got = strings.ReplaceAll(got, "\\", "/")
			if got != tt.want {
				t.Errorf("config path: got %q want %q", got, tt.want)
			}
		})
	}
}

func TestLoadFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.yaml")
	data := []byte("transport: ws\nserver_url: ws://example:9000/ws\ncall_timeout: 5s\nmax_reconnect_attempts: 4\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	c := ClientConfig{Transport: TransportUnix, SocketPath: "/tmp/twizzy.sock"}
	if err := c.LoadFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Transport != TransportWS {
		t.Errorf("transport: got %q", c.Transport)
	}
	if c.ServerURL != "ws://example:9000/ws" {
		t.Errorf("server_url: got %q", c.ServerURL)
	}
	if c.CallTimeout != 5*time.Second {
		t.Errorf("call_timeout: got %v", c.CallTimeout)
	}
	// Fields absent from the file keep their previous values.
	if c.SocketPath != "/tmp/twizzy.sock" {
		t.Errorf("socket_path clobbered: %q", c.SocketPath)
	}
}

func TestPolicyFromConfig(t *testing.T) {
	c := ClientConfig{Reconnect: true, MaxReconnectAttempts: 7}
	p := c.Policy()
	if !p.Auto || p.MaxAttempts != 7 {
		t.Fatalf("unexpected policy %+v", p)
	}
	if !p.Exhausted(7) || p.Exhausted(6) {
		t.Fatalf("attempt cap not honored")
	}
}
