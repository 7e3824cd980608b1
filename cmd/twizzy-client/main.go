package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/twizzy/bridge/internal/agentapi"
	"github.com/twizzy/bridge/internal/bridge"
	"github.com/twizzy/bridge/internal/config"
	"github.com/twizzy/bridge/internal/logx"
	"github.com/twizzy/bridge/internal/protocol"
	"github.com/twizzy/bridge/internal/statushttp"
	"github.com/twizzy/bridge/internal/transport"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func binaryName() string {
	b := filepath.Base(os.Args[0])
	return strings.TrimSuffix(b, filepath.Ext(b))
}

func usage() {
	out := flag.CommandLine.Output()
	_, _ = fmt.Fprintf(out, "%s version=%s sha=%s date=%s\n\n", binaryName(), version, buildSHA, buildDate)
	_, _ = fmt.Fprintf(out, "usage: %s [flags] <command>\n\ncommands:\n", binaryName())
	_, _ = fmt.Fprint(out, `  chat <message>       send a message and print the agent's reply
  status               print the agent's status snapshot
  clear                reset the current conversation
  permissions          print the capability map
  grant <capability>   enable a capability
  revoke <capability>  disable a capability
  switch <id>          switch the active conversation (ws transport)
  repl                 interactive chat loop (one message per line)
  watch                stay connected and print pushed events

flags:
`)
	flag.PrintDefaults()
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	var cfg config.ClientConfig
	cfg.BindFlags()
	flag.Usage = usage
	flag.Parse()
	if *showVersion {
		fmt.Printf("%s version=%s sha=%s date=%s\n", binaryName(), version, buildSHA, buildDate)
		return
	}

	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
		}
	}
	logx.Configure(cfg.LogLevel)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	cmd := args[0]

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logx.Log.Warn().Msg("termination requested")
		cancel()
	}()

	b, err := buildBridge(cfg)
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("configure bridge")
	}
	defer func() { _ = b.Close() }()

	b.OnStateChange(func(s bridge.ConnectionState) {
		logx.Log.Info().Str("state", s.String()).Msg("connection state")
	})

	if cfg.StatusAddr != "" {
		opts := statushttp.Options{
			Source:     b,
			Version:    statushttp.VersionInfo{Version: version, BuildSHA: buildSHA, BuildDate: buildDate},
			ClientID:   cfg.ClientID,
			ClientName: cfg.ClientName,
		}
		if _, err := statushttp.Start(ctx, cfg.StatusAddr, opts); err != nil {
			logx.Log.Fatal().Err(err).Msg("status server")
		}
	}
	if cfg.MetricsAddr != "" {
		if _, err := statushttp.StartMetrics(ctx, cfg.MetricsAddr, bridge.MetricsRegistry()); err != nil {
			logx.Log.Fatal().Err(err).Msg("metrics server")
		}
	}

	logx.Log.Info().Str("client_name", cfg.ClientName).Str("transport", cfg.Transport).Msg("client starting")
	if err := b.Connect(ctx); err != nil {
		logx.Log.Fatal().Err(err).Msg("connect")
	}

	api := agentapi.New(b)
	if err := run(ctx, cmd, args[1:], api, b, cfg.Transport); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logx.Log.Fatal().Err(err).Str("command", cmd).Msg("command failed")
	}
}

func buildBridge(cfg config.ClientConfig) (*bridge.Bridge, error) {
	opts := bridge.Options{
		Policy:              cfg.Policy(),
		CallTimeout:         cfg.CallTimeout,
		WaitWhileConnecting: cfg.WaitWhileConnecting,
	}
	switch cfg.Transport {
	case config.TransportUnix:
		opts.Dialer = transport.StreamDialer{Path: cfg.SocketPath, Timeout: cfg.DialTimeout}
		opts.Codec = protocol.RPCCodec{}
	case config.TransportWS:
		opts.Dialer = transport.WSDialer{URL: cfg.ServerURL, Timeout: cfg.DialTimeout}
		opts.Codec = protocol.PushCodec{}
		opts.ImplicitCorrelation = true
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	return bridge.New(opts), nil
}

func run(ctx context.Context, cmd string, args []string, api *agentapi.Client, b *bridge.Bridge, transportKind string) error {
	switch cmd {
	case "chat":
		if len(args) == 0 {
			return errors.New("chat: message required")
		}
		reply, err := api.Chat(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	case "status":
		st, err := api.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("running: %v\n", st.Running)
		fmt.Printf("conversation length: %d\n", st.ConversationLength)
		fmt.Printf("capabilities: %s\n", strings.Join(st.EnabledCapabilities, ", "))
		fmt.Printf("plugins: %s\n", strings.Join(st.RegisteredPlugins, ", "))
		return nil
	case "clear":
		return api.Clear(ctx)
	case "permissions":
		p, err := api.GetPermissions(ctx)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(p))
		for name := range p {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%s: %v\n", name, p[name])
		}
		return nil
	case "grant", "revoke":
		if len(args) != 1 {
			return fmt.Errorf("%s: capability name required", cmd)
		}
		p, err := api.GetPermissions(ctx)
		if err != nil {
			return err
		}
		p[args[0]] = cmd == "grant"
		return api.SetPermissions(ctx, p)
	case "switch":
		if len(args) != 1 {
			return errors.New("switch: conversation id required")
		}
		if transportKind != config.TransportWS {
			return errors.New("switch: only available on the ws transport")
		}
		return api.SwitchConversation(ctx, args[0])
	case "repl":
		return repl(ctx, api)
	case "watch":
		return watch(ctx, b)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// repl reads one message per line from stdin and prints each reply. EOF or
// interruption ends the loop.
func repl(ctx context.Context, api *agentapi.Client) error {
	sc := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for sc.Scan() {
		msg := strings.TrimSpace(sc.Text())
		if msg == "" {
			fmt.Print("> ")
			continue
		}
		reply, err := api.Chat(ctx, msg)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logx.Log.Error().Err(err).Msg("chat failed")
		} else {
			fmt.Println(reply)
		}
		fmt.Print("> ")
	}
	return sc.Err()
}

// watch prints every pushed event until interrupted.
func watch(ctx context.Context, b *bridge.Bridge) error {
	events := []string{
		protocol.EventConnected,
		protocol.EventStatus,
		protocol.EventResponse,
		protocol.EventStatusUpdate,
		protocol.EventError,
		protocol.EventImprovement,
		protocol.EventReload,
	}
	for _, ev := range events {
		b.On(ev, func(eventType string, payload json.RawMessage) {
			fmt.Printf("%s %s\n", eventType, string(payload))
		})
	}
	<-ctx.Done()
	return nil
}
