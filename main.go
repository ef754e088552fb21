package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/tomaslejdung/superdesk/pkg/capture"
	"github.com/tomaslejdung/superdesk/pkg/relay"
	"github.com/tomaslejdung/superdesk/pkg/settings"
)

const (
	modeHost  = "host"
	modeJoin  = "join"
	modeServe = "serve"
)

// LocalSignalServer is the URL of a relay started with `superdesk serve`.
const LocalSignalServer = "ws://localhost:8080/ws"

// Config holds runtime configuration
type Config struct {
	Mode string
	Code string

	SignalURL    string
	ConfigServer string
	AuthToken    string

	RTPAddr      string
	Codec        capture.Codec
	ScreenWidth  int
	ScreenHeight int
	ViewWidth    int
	ViewHeight   int

	// TURN server configuration
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool // Force TURN relay (no direct P2P)

	// serve mode
	Port        int
	RelayConfig string

	LogFile string
	Verbose bool
	Save    bool
	Help    bool
}

var errUsage = errors.New("usage")

func parseFlags(args []string, defaults settings.UserSettings) (Config, error) {
	config := Config{}
	var localMode bool
	var codec string

	fs := pflag.NewFlagSet("superdesk", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVarP(&config.SignalURL, "signal", "u", defaults.SignalURL, "Relay websocket URL")
	fs.BoolVar(&localMode, "local", false, "Use a local relay ("+LocalSignalServer+")")
	fs.StringVar(&config.ConfigServer, "config-server", defaults.ConfigServer, "Base URL serving /api/webrtc-config")
	fs.StringVar(&config.AuthToken, "token", defaults.AuthToken, "Bearer token for the relay")

	fs.StringVar(&config.RTPAddr, "rtp", defaults.RTPAddr, "UDP address receiving the encoded screen as RTP")
	fs.StringVar(&codec, "codec", defaults.Codec, "Codec of the RTP stream (vp8|vp9|h264)")
	fs.IntVar(&config.ScreenWidth, "screen-width", defaults.ScreenWidth, "Captured screen width")
	fs.IntVar(&config.ScreenHeight, "screen-height", defaults.ScreenHeight, "Captured screen height")
	fs.IntVar(&config.ViewWidth, "view-width", defaults.ViewWidth, "Viewer surface width")
	fs.IntVar(&config.ViewHeight, "view-height", defaults.ViewHeight, "Viewer surface height")

	fs.StringVar(&config.TURNServer, "turn", defaults.TURNServer, "TURN server URL (e.g., turn:turn.example.com:3478)")
	fs.StringVar(&config.TURNUser, "turn-user", defaults.TURNUser, "TURN server username")
	fs.StringVar(&config.TURNPass, "turn-pass", defaults.TURNPass, "TURN server password")
	fs.BoolVar(&config.ForceRelay, "force-relay", defaults.ForceRelay, "Force TURN relay (disable direct P2P)")

	fs.IntVarP(&config.Port, "port", "p", 0, "Relay port in serve mode (default $PORT or 8080)")
	fs.StringVarP(&config.RelayConfig, "config", "c", "", "Relay YAML config in serve mode")

	fs.StringVar(&config.LogFile, "log", "superdesk-debug.log", "Log file for host and join modes")
	fs.BoolVarP(&config.Verbose, "verbose", "v", false, "Debug logging")
	fs.BoolVar(&config.Save, "save", false, "Save connection and capture flags as defaults")
	fs.BoolVarP(&config.Help, "help", "h", false, "Show help")

	if err := fs.Parse(args); err != nil {
		return config, err
	}
	if config.Help {
		return config, nil
	}

	config.Codec = capture.ParseCodec(codec)
	if localMode {
		config.SignalURL = LocalSignalServer
		if !fs.Changed("config-server") {
			config.ConfigServer = "http://localhost:8080"
		}
	} else if fs.Changed("signal") && !fs.Changed("config-server") {
		config.ConfigServer = configServerFor(config.SignalURL)
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return config, errUsage
	}
	config.Mode = rest[0]
	switch config.Mode {
	case modeHost, modeServe:
		if len(rest) > 1 {
			return config, fmt.Errorf("%s takes no arguments", config.Mode)
		}
	case modeJoin:
		if len(rest) != 2 {
			return config, fmt.Errorf("join needs a session code")
		}
		config.Code = rest[1]
	default:
		return config, fmt.Errorf("unknown command %q", config.Mode)
	}
	return config, nil
}

// configServerFor derives the HTTP base of a relay from its websocket URL.
func configServerFor(signalURL string) string {
	u, err := url.Parse(signalURL)
	if err != nil || u.Host == "" {
		return ""
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path, u.RawQuery = "", ""
	return u.String()
}

// settingsFrom returns s updated with the flags worth remembering.
func settingsFrom(s settings.UserSettings, config Config) settings.UserSettings {
	s.SignalURL = config.SignalURL
	s.ConfigServer = config.ConfigServer
	s.AuthToken = config.AuthToken
	s.RTPAddr = config.RTPAddr
	s.Codec = string(config.Codec)
	s.ScreenWidth, s.ScreenHeight = config.ScreenWidth, config.ScreenHeight
	s.ViewWidth, s.ViewHeight = config.ViewWidth, config.ViewHeight
	s.TURNServer, s.TURNUser, s.TURNPass = config.TURNServer, config.TURNUser, config.TURNPass
	s.ForceRelay = config.ForceRelay
	return s
}

func printHelp() {
	fmt.Println(`superdesk - remote desktop over WebRTC

Usage:
  superdesk host              Share this screen and print a session code
  superdesk join CODE         View and control a shared screen
  superdesk serve             Run the signaling relay

The host reads its screen as RTP from an external encoder, for example:
  ffmpeg -f x11grab -i :0 -c:v libvpx -deadline realtime -f rtp rtp://127.0.0.1:5004

Options:
  --signal, -u <url>       Relay websocket URL
  --local                  Use a local relay (` + LocalSignalServer + `)
  --config-server <url>    Base URL serving /api/webrtc-config
  --token <jwt>            Bearer token when the relay requires one
  --rtp <addr>             RTP listen address (host)
  --codec <name>           vp8, vp9 or h264 (host)
  --screen-width/-height   Captured screen size (host)
  --view-width/-height     Viewer surface size (join)
  --save                   Remember these options
  --log <file>             Log file (default: superdesk-debug.log)
  --verbose, -v            Debug logging
  --help, -h               Show help

Network Options:
  --turn <url>             TURN server URL (e.g., turn:turn.example.com:3478)
  --turn-user <user>       TURN server username
  --turn-pass <pass>       TURN server password
  --force-relay            Force TURN relay (disable direct P2P connections)

Serve Options:
  --port, -p <port>        Relay port (default: $PORT or 8080)
  --config, -c <file>      YAML relay config (ICE servers, TURN secret, Redis)

TUI Controls:
  r             New session code (host)
  enter         Retry after a failure
  q             Quit (host); ctrl+q quits the viewer
  other keys    Sent to the host while viewing
  mouse         Click, double-click, right-click, drag and wheel are sent
                to the host while viewing; ctrl+wheel zooms`)
}

func main() {
	defaults, err := settings.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
	}

	config, err := parseFlags(os.Args[1:], defaults)
	if config.Help || errors.Is(err, errUsage) {
		printHelp()
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		printHelp()
		os.Exit(2)
	}

	if config.Save {
		if err := settings.Save(settingsFrom(defaults, config)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not save settings: %v\n", err)
		}
	}

	level := slog.LevelInfo
	if config.Verbose {
		level = slog.LevelDebug
	}

	if config.Mode == modeServe {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
		if err := runServe(config, logger); err != nil {
			logger.Error("relay stopped", "error", err)
			os.Exit(1)
		}
		return
	}

	// Write logs to file instead of corrupting TUI display
	var logOut io.Writer = io.Discard
	if logFile, err := os.Create(config.LogFile); err == nil {
		defer logFile.Close()
		logOut = logFile
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	logger.Info("superdesk started", "mode", config.Mode, "time", time.Now().Format(time.RFC3339))

	a, err := newApp(config, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := RunTUI(a); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(config Config, logger *slog.Logger) error {
	cfg, err := relay.Load(config.RelayConfig)
	if err != nil {
		return err
	}
	if config.Port != 0 {
		cfg.Port = strconv.Itoa(config.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Starting relay on http://localhost:%s\n", cfg.Port)
	fmt.Printf("Clients connect with --signal ws://<host>:%s/ws\n", strings.TrimPrefix(cfg.Port, ":"))
	fmt.Println("Press Ctrl+C to stop")
	return relay.Serve(ctx, cfg, logger)
}
