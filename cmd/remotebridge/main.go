package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

var version = "1.0.0"

const defaultConfigPath = "/etc/remotebridge/config.yaml"

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `remotebridge v%s

Bridges a BLE handheld remote to a home-automation webhook.

USAGE:
  remotebridge [OPTIONS]                 Run the daemon
  remotebridge inject [OPTIONS] <code>   Simulate a button tap (e.g. 52, 0x1e)
  remotebridge status [OPTIONS]          Print mode, connection state and button state

OPTIONS:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
EXAMPLES:
  remotebridge -c /etc/remotebridge/config.yaml
  remotebridge --address AA:BB:CC:DD:EE:FF --webhook-url http://ha.local:8123/api/webhook/remote
  remotebridge inject 45      # switch to music mode
  remotebridge status

NOTES:
  - Requires gatttool (bluez) and access to the system D-Bus for adapter resets.
  - The connection manager retries forever; run it under a service supervisor.
`)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	args := os.Args[1:]
	var err error
	switch {
	case len(args) > 0 && args[0] == "inject":
		err = runInjectCommand(args[1:])
	case len(args) > 0 && args[0] == "status":
		err = runStatusCommand(args[1:])
	default:
		err = runDaemonCommand(ctx, args)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "remotebridge: %v\n", err)
		os.Exit(1)
	}
}

// ============================================================================
// Daemon
// ============================================================================

func runDaemonCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("remotebridge", flag.ContinueOnError)

	configPath := fs.StringP("config", "c", "", "YAML config file (default "+defaultConfigPath+" if present)")

	var (
		address     = fs.String("address", "", "BLE address of the remote")
		deviceName  = fs.String("device-name", "", "device_name sent in outbound events")
		adapter     = fs.String("adapter", "", "Bluetooth adapter (e.g. hci0)")
		webhookURL  = fs.String("webhook-url", "", "Webhook URL receiving button events")
		feedbackURL = fs.String("feedback-url", "", "Feedback pulse URL (empty disables)")
		feedListen  = fs.String("feed-listen", "", "Diagnostic feed listen address (empty disables)")
		ipcSocket   = fs.String("ipc-socket", "", "Unix domain socket path for IPC")
		mqttBroker  = fs.String("mqtt-broker", "", "MQTT broker URL (empty disables the mirror)")
		logLevel    = fs.String("log-level", "", "Log level: error, warn, info, debug")
	)

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Print this help message")
	fs.Usage = func() { printUsage(fs) }

	if err := fs.Parse(args); err != nil {
		return err
	}
	if showHelp {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Printf("remotebridge v%s\n", version)
		return nil
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	overrides := FlagOverrides{}
	setIfChanged := func(name string, dst **string, v *string) {
		if fs.Changed(name) {
			*dst = v
		}
	}
	setIfChanged("address", &overrides.Address, address)
	setIfChanged("device-name", &overrides.DeviceName, deviceName)
	setIfChanged("adapter", &overrides.Adapter, adapter)
	setIfChanged("webhook-url", &overrides.WebhookURL, webhookURL)
	setIfChanged("feedback-url", &overrides.FeedbackURL, feedbackURL)
	setIfChanged("feed-listen", &overrides.FeedListen, feedListen)
	setIfChanged("ipc-socket", &overrides.IPCSocketPath, ipcSocket)
	setIfChanged("mqtt-broker", &overrides.MQTTBroker, mqttBroker)
	setIfChanged("log-level", &overrides.LogLevel, logLevel)
	overrides.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	level, _ := parseLogLevel(cfg.Logging.Level)
	logger := setupLogger(level)

	return runDaemon(ctx, cfg, logger)
}

// loadConfig loads path, or the default path when it exists, or defaults.
func loadConfig(path string) (Config, error) {
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err != nil {
			return DefaultConfig(), nil
		}
		path = defaultConfigPath
	}
	return LoadConfigFile(path)
}

func runDaemon(ctx context.Context, cfg Config, logger *slog.Logger) error {
	logger.Info("starting remotebridge",
		"version", version,
		"address", cfg.Remote.Address,
		"device_name", cfg.Remote.DeviceName,
		"adapter", cfg.Remote.Adapter,
		"webhook", cfg.Webhook.URL,
		"feedback", cfg.Feedback.Enabled,
		"mqtt", cfg.MQTT.Enabled,
		"feed", cfg.Feed.Listen,
		"ipc", cfg.IPC.SocketPath)

	bt, err := newBluezAdapter(cfg.Remote.Adapter, cfg.Bluetooth.Unit, logger)
	if err != nil {
		return fmt.Errorf("bluetooth control: %w", err)
	}
	defer bt.Close()

	metrics := NewMetrics()

	// Outbound sinks
	sinks := []Sink{newWebhookSink(cfg.Webhook)}

	var mq *mqttSink
	if cfg.MQTT.Enabled {
		mq, err = newMQTTSink(cfg.MQTT, cfg.Remote.DeviceName, logger)
		if err != nil {
			logger.Warn("mqtt mirror disabled", "error", err)
		} else {
			sinks = append(sinks, mq)
			defer mq.Close()
		}
	}

	var pulser Pulser
	if cfg.Feedback.Enabled {
		fb, err := newFeedbackClient(cfg.Feedback)
		if err != nil {
			return fmt.Errorf("feedback: %w", err)
		}
		pulser = fb
	}

	dispatcher := NewDispatcher(DispatcherConfig{
		Sinks:           sinks,
		Feedback:        pulser,
		MaxInFlight:     int64(cfg.Dispatch.MaxInFlight),
		Timeout:         msDuration(cfg.Webhook.TimeoutMS),
		FeedbackTimeout: msDuration(cfg.Feedback.TimeoutMS),
		Metrics:         metrics,
		Logger:          logger,
	})
	defer dispatcher.Wait()

	playlist, err := newPlaylistLookup(cfg.Playlist)
	if err != nil {
		return fmt.Errorf("playlist: %w", err)
	}

	// Central event bus: BLE notifications, session lifecycle, IPC, status.
	events := make(chan Event, 64)

	var broadcasts chan StateBroadcast
	if cfg.Feed.Listen != "" {
		broadcasts = make(chan StateBroadcast, 128)
	}

	fx := &effects{
		deviceName:      cfg.Remote.DeviceName,
		dispatcher:      dispatcher,
		playlist:        playlist,
		playlistTimeout: msDuration(cfg.Playlist.TimeoutMS),
		broadcasts:      broadcasts,
		logger:          logger,
	}

	gatttool := cfg.Remote.GatttoolPath
	manager := NewManager(ManagerConfig{
		Address: cfg.Remote.Address,
		Adapter: bt,
		Spawn: NewGatttoolSpawner(GatttoolOptions{
			Path:        gatttool,
			Adapter:     cfg.Remote.Adapter,
			AddressType: cfg.Remote.AddressType,
		}, logger),
		KillStale: func(addr string) (int, error) {
			return killStaleSessions(gatttool, addr)
		},
		Metrics: metrics,
		Logger:  logger,
	}, events)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(manager.Run(gctx))
	})

	g.Go(func() error {
		runBridge(gctx, events, fx, NewBridgeState(), broadcasts, logger)
		return nil
	})

	g.Go(optionalSurface("ipc", logger, func() error {
		return runIPCServer(gctx, cfg.IPC.SocketPath, events, logger)
	}))

	if broadcasts != nil {
		hub := NewFeedHub(logger, 0, 0)
		mux := http.NewServeMux()
		NewFeedServer(hub, events, metrics, logger).Register(mux)

		g.Go(func() error {
			hub.Run(gctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(gctx, hub, broadcasts, logger)
			return nil
		})
		g.Go(optionalSurface("feed", logger, func() error {
			return runFeedServer(gctx, cfg.Feed.Listen, mux, logger)
		}))
	}

	err = g.Wait()
	logger.Info("shutting down", "metrics", metrics.Snapshot())
	return err
}

// optionalSurface wraps a non-essential server so its failure is logged and
// the bridge keeps running without it.
func optionalSurface(name string, logger *slog.Logger, run func() error) func() error {
	return func() error {
		if err := run(); err != nil {
			logger.Error(name+" disabled", "error", err)
		}
		return nil
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ============================================================================
// Client subcommands
// ============================================================================

func runInjectCommand(args []string) error {
	fs := flag.NewFlagSet("inject", flag.ContinueOnError)
	socket := fs.String("ipc-socket", DefaultConfig().IPC.SocketPath, "Unix domain socket path for IPC")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "USAGE:\n  remotebridge inject [--ipc-socket PATH] <code> [code...]\n\nOPTIONS:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("at least one command byte is required")
	}

	for _, arg := range fs.Args() {
		code, err := ParseCommandCode(arg)
		if err != nil {
			return err
		}
		if _, err := SendIPC(*socket, pressRequests(code)...); err != nil {
			return fmt.Errorf("inject %s: %w", code, err)
		}
		fmt.Printf("injected %s (%s)\n", code, ResolveKey(code))
	}
	return nil
}

func runStatusCommand(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	socket := fs.String("ipc-socket", DefaultConfig().IPC.SocketPath, "Unix domain socket path for IPC")
	if err := fs.Parse(args); err != nil {
		return err
	}

	resp, err := SendIPC(*socket, IPCRequest{Type: ipcTypeStatus})
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(resp.Data, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
