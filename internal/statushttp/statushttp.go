// Package statushttp serves the local status endpoint a UI or operator can
// poll: connection state, last error, and a manual resume control for when
// the bridge has given up reconnecting. Optionally exposes Prometheus
// metrics on a separate listener.
package statushttp

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/twizzy/bridge/internal/bridge"
	"github.com/twizzy/bridge/internal/logx"
)

// Source is the slice of the bridge the status server reads and controls.
type Source interface {
	State() bridge.ConnectionState
	GaveUp() bool
	LastError() error
	Resume()
}

// VersionInfo identifies the build.
type VersionInfo struct {
	Version   string `json:"version"`
	BuildSHA  string `json:"build_sha"`
	BuildDate string `json:"build_date"`
}

// Snapshot is the JSON body of /status.
type Snapshot struct {
	State      string `json:"state"`
	GaveUp     bool   `json:"gave_up"`
	LastError  string `json:"last_error,omitempty"`
	ClientID   string `json:"client_id,omitempty"`
	ClientName string `json:"client_name,omitempty"`
}

// Options configures the status server.
type Options struct {
	Source     Source
	Version    VersionInfo
	ClientID   string
	ClientName string
}

// Handler builds the status router. Split out for tests.
func Handler(opts Options) http.Handler {
	r := chi.NewRouter()
	// The web UI runs on a different local origin.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}))
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		snap := Snapshot{
			State:      opts.Source.State().String(),
			GaveUp:     opts.Source.GaveUp(),
			ClientID:   opts.ClientID,
			ClientName: opts.ClientName,
		}
		if err := opts.Source.LastError(); err != nil {
			snap.LastError = err.Error()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	})
	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(opts.Version)
	})
	r.Post("/control/resume", func(w http.ResponseWriter, r *http.Request) {
		host, _, _ := net.SplitHostPort(r.RemoteAddr)
		if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		opts.Source.Resume()
		w.WriteHeader(http.StatusOK)
	})
	return r
}

// Start serves the status endpoints until ctx is done. It returns the
// resolved listen address.
func Start(ctx context.Context, addr string, opts Options) (string, error) {
	actual, err := serveUntilContext(ctx, addr, Handler(opts))
	if err != nil {
		return "", err
	}
	logx.Log.Info().Str("addr", actual).Msg("status server started")
	return actual, nil
}

// StartMetrics exposes the bridge's Prometheus collectors on /metrics.
func StartMetrics(ctx context.Context, addr string, reg prometheus.Gatherer) (string, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	actual, err := serveUntilContext(ctx, addr, mux)
	if err != nil {
		return "", err
	}
	logx.Log.Info().Str("addr", actual).Msg("metrics server started")
	return actual, nil
}

// serveUntilContext starts an HTTP server bound to addr and shuts it down
// when ctx is done.
func serveUntilContext(ctx context.Context, addr string, handler http.Handler) (string, error) {
	srv := &http.Server{Handler: handler}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	actual := ln.Addr().String()
	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(c)
	}()
	go func() { _ = srv.Serve(ln) }()
	return actual, nil
}
