package config

import (
	"flag"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/twizzy/bridge/internal/reconnect"
)

// Transport kinds accepted by the client.
const (
	TransportUnix = "unix"
	TransportWS   = "ws"
)

// ClientConfig holds configuration for the bridge client.
type ClientConfig struct {
	// Transport selects the channel to the agent daemon: "unix" (JSON-RPC
	// over the daemon socket) or "ws" (push/command WebSocket).
	Transport string `yaml:"transport"`
	// SocketPath is the daemon's Unix socket (unix transport).
	SocketPath string `yaml:"socket_path"`
	// ServerURL is the daemon's WebSocket endpoint (ws transport).
	ServerURL string `yaml:"server_url"`

	ClientID   string `yaml:"client_id"`
	ClientName string `yaml:"client_name"`

	// CallTimeout is the default deadline applied to a call whose context
	// carries none. Zero disables the default.
	CallTimeout time.Duration `yaml:"call_timeout"`
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// Reconnect re-dials automatically after an established connection drops.
	Reconnect bool `yaml:"reconnect"`
	// MaxReconnectAttempts caps consecutive failed attempts before the bridge
	// gives up and waits for an explicit resume. Zero retries forever.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
	// WaitWhileConnecting makes calls issued during connection establishment
	// wait for the link instead of failing fast.
	WaitWhileConnecting bool `yaml:"wait_while_connecting"`

	StatusAddr  string `yaml:"status_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	ConfigFile string `yaml:"-"`
	LogLevel   string `yaml:"log_level"`
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// BindFlags seeds the config from the environment and registers flags.
// Precedence: flags > config file > environment > defaults.
func (c *ClientConfig) BindFlags() {
	c.ConfigFile = getEnv("CONFIG_FILE", DefaultConfigPath("client.yaml"))
	c.LogLevel = getEnv("LOG_LEVEL", "info")

	c.Transport = getEnv("TRANSPORT", TransportUnix)
	c.SocketPath = getEnv("TWIZZY_SOCKET", "/tmp/twizzy.sock")
	c.ServerURL = getEnv("SERVER_URL", "ws://localhost:8000/ws")
	c.ClientID = getEnv("CLIENT_ID", "")
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "client-" + uuid.NewString()[:8]
	}
	c.ClientName = getEnv("CLIENT_NAME", host)
	if d, err := time.ParseDuration(getEnv("CALL_TIMEOUT", "30s")); err == nil {
		c.CallTimeout = d
	} else {
		c.CallTimeout = 30 * time.Second
	}
	if d, err := time.ParseDuration(getEnv("DIAL_TIMEOUT", "5s")); err == nil {
		c.DialTimeout = d
	} else {
		c.DialTimeout = 5 * time.Second
	}
	if b, err := strconv.ParseBool(getEnv("RECONNECT", "true")); err == nil {
		c.Reconnect = b
	}
	if v, err := strconv.Atoi(getEnv("MAX_RECONNECT_ATTEMPTS", "0")); err == nil {
		c.MaxReconnectAttempts = v
	}
	if b, err := strconv.ParseBool(getEnv("WAIT_WHILE_CONNECTING", "false")); err == nil {
		c.WaitWhileConnecting = b
	}
	c.StatusAddr = getEnv("STATUS_ADDR", "")
	mp := getEnv("METRICS_PORT", "")
	if mp != "" && !strings.Contains(mp, ":") {
		mp = ":" + mp
	}
	c.MetricsAddr = mp

	flag.StringVar(&c.Transport, "transport", c.Transport, "channel to the agent daemon: unix or ws")
	flag.StringVar(&c.SocketPath, "socket", c.SocketPath, "agent daemon Unix socket path")
	flag.StringVar(&c.ServerURL, "server-url", c.ServerURL, "agent daemon WebSocket URL (e.g. ws://localhost:8000/ws)")
	flag.StringVar(&c.ClientID, "client-id", c.ClientID, "client identifier; randomly generated if omitted")
	flag.StringVar(&c.ClientName, "client-name", c.ClientName, "client display name shown in logs")
	flag.DurationVar(&c.CallTimeout, "call-timeout", c.CallTimeout, "default per-call timeout (0 to disable)")
	flag.DurationVar(&c.DialTimeout, "dial-timeout", c.DialTimeout, "timeout for a single connection attempt")
	flag.BoolVar(&c.Reconnect, "reconnect", c.Reconnect, "reconnect to the daemon on failure")
	flag.BoolVar(&c.Reconnect, "r", c.Reconnect, "short for --reconnect")
	flag.IntVar(&c.MaxReconnectAttempts, "max-reconnect-attempts", c.MaxReconnectAttempts, "consecutive failed attempts before giving up (0 = retry forever)")
	flag.BoolVar(&c.WaitWhileConnecting, "wait-while-connecting", c.WaitWhileConnecting, "queue calls issued while connecting instead of failing fast")
	flag.StringVar(&c.StatusAddr, "status-addr", c.StatusAddr, "local status HTTP listen address (enables /status; e.g. 127.0.0.1:4655)")
	flag.StringVar(&c.MetricsAddr, "metrics-port", c.MetricsAddr, "Prometheus metrics listen address or port (disabled when empty)")
	flag.StringVar(&c.ConfigFile, "config", c.ConfigFile, "client config file path")
	flag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
}

// LoadFile populates the config from a YAML file. Fields already set remain
// unless overwritten by corresponding entries in the file.
func (c *ClientConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}

// Policy derives the reconnect policy from the config.
func (c *ClientConfig) Policy() reconnect.Policy {
	p := reconnect.Default()
	p.Auto = c.Reconnect
	p.MaxAttempts = c.MaxReconnectAttempts
	return p
}

// DefaultConfigPath returns the default config file path for the given name.
func DefaultConfigPath(name string) string {
	home, _ := os.UserHomeDir()
	programData := os.Getenv("ProgramData")
	return resolveConfigPath(runtime.GOOS, home, programData, name)
}

func resolveConfigPath(goos, home, programData, name string) string {
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "twizzy", name)
	case "windows":
		if programData == "" {
			programData = "C:/ProgramData"
		}
		programData = strings.TrimRight(programData, "\\/")
		return filepath.Join(programData, "twizzy", name)
	default:
		return filepath.Join(home, ".config", "twizzy", name)
	}
}
