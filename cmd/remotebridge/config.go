package main

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the remotebridge daemon.
//
// Defaults live in DefaultConfig, the file is decoded on top of them, flag
// overrides are applied last and Validate is run once on the result. The rest
// of the code can assume a well-formed config.
type Config struct {
	// The paired remote and how to reach it
	Remote RemoteConfig `yaml:"remote"`

	// Home-automation webhook receiving OutboundEvents
	Webhook WebhookConfig `yaml:"webhook"`

	// Haptic/LED pulse endpoint
	Feedback FeedbackConfig `yaml:"feedback"`

	// Digit to playlist lookup
	Playlist PlaylistConfig `yaml:"playlist"`

	// Detached delivery pool
	Dispatch DispatchConfig `yaml:"dispatch"`

	// Host bluetooth stack control
	Bluetooth BluetoothConfig `yaml:"bluetooth"`

	// Optional MQTT mirror of dispatched events
	MQTT MQTTConfig `yaml:"mqtt"`

	// Diagnostic HTTP listener (websocket feed, metrics, health)
	Feed FeedConfig `yaml:"feed"`

	// IPC configuration (inject/status subcommands)
	IPC IPCConfig `yaml:"ipc"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type RemoteConfig struct {
	// BLE address, e.g. AA:BB:CC:DD:EE:FF
	Address string `yaml:"address"`
	// device_name in outbound events
	DeviceName string `yaml:"device_name"`
	// Advertised name, informational only
	BLEName string `yaml:"ble_name,omitempty"`

	Adapter      string `yaml:"adapter"`
	GatttoolPath string `yaml:"gatttool_path"`
	AddressType  string `yaml:"address_type"` // public|random
}

type WebhookConfig struct {
	URL              string `yaml:"url"`
	ConnectTimeoutMS int    `yaml:"connect_timeout_ms"`
	TimeoutMS        int    `yaml:"timeout_ms"`
}

type FeedbackConfig struct {
	Enabled   bool   `yaml:"enabled"`
	URL       string `yaml:"url"`
	Mode      string `yaml:"mode"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type PlaylistConfig struct {
	// Command is run as `<command> <digit>`; its trimmed stdout is the URI.
	Command   string `yaml:"command,omitempty"`
	TimeoutMS int    `yaml:"timeout_ms"`
	// Map is consulted when Command is empty. Keys are digits "0".."9".
	Map map[string]string `yaml:"map,omitempty"`
}

type DispatchConfig struct {
	MaxInFlight int `yaml:"max_in_flight"`
}

type BluetoothConfig struct {
	// Unit is the systemd unit restarted when a connect is refused.
	Unit string `yaml:"unit"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // tcp://host:1883
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id,omitempty"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
}

type FeedConfig struct {
	// Listen is the host:port of the diagnostic listener; empty disables it.
	Listen string `yaml:"listen"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go.
func DefaultConfig() Config {
	return Config{
		Remote: RemoteConfig{
			DeviceName:   "remote",
			Adapter:      "hci0",
			GatttoolPath: "gatttool",
			AddressType:  "public",
		},
		Webhook: WebhookConfig{
			ConnectTimeoutMS: defaultWebhookConnectTimeoutMS,
			TimeoutMS:        defaultWebhookTimeoutMS,
		},
		Feedback: FeedbackConfig{
			Enabled:   false,
			Mode:      "pulse",
			TimeoutMS: defaultFeedbackTimeoutMS,
		},
		Playlist: PlaylistConfig{
			TimeoutMS: defaultPlaylistTimeoutMS,
		},
		Dispatch: DispatchConfig{
			MaxInFlight: defaultMaxInFlight,
		},
		Bluetooth: BluetoothConfig{
			Unit: "bluetooth.service",
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			TopicPrefix: "remotebridge",
		},
		Feed: FeedConfig{
			Listen: "127.0.0.1:3002",
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/remotebridge.sock",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
// Unknown fields are rejected so typos surface at startup.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides holds command-line overrides. A nil pointer means the flag
// was not given; a non-nil pointer is applied even if it holds a zero value.
type FlagOverrides struct {
	Address    *string
	DeviceName *string
	Adapter    *string

	WebhookURL  *string
	FeedbackURL *string

	FeedListen    *string
	IPCSocketPath *string

	MQTTBroker *string

	LogLevel *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.Address != nil {
		cfg.Remote.Address = *o.Address
	}
	if o.DeviceName != nil {
		cfg.Remote.DeviceName = *o.DeviceName
	}
	if o.Adapter != nil {
		cfg.Remote.Adapter = *o.Adapter
	}

	if o.WebhookURL != nil {
		cfg.Webhook.URL = *o.WebhookURL
	}
	if o.FeedbackURL != nil {
		cfg.Feedback.URL = *o.FeedbackURL
		cfg.Feedback.Enabled = *o.FeedbackURL != ""
	}

	if o.FeedListen != nil {
		cfg.Feed.Listen = *o.FeedListen
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}

	if o.MQTTBroker != nil {
		cfg.MQTT.Broker = *o.MQTTBroker
		cfg.MQTT.Enabled = *o.MQTTBroker != ""
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

var bleAddressRe = regexp.MustCompile(`^[0-9A-Fa-f]{2}(:[0-9A-Fa-f]{2}){5}$`)

// Validate checks config invariants and returns a user-friendly error.
// It normalises the remote address to upper case.
func (c *Config) Validate() error {
	// Remote
	if c.Remote.Address == "" {
		return errors.New("remote.address must not be empty")
	}
	if !bleAddressRe.MatchString(c.Remote.Address) {
		return fmt.Errorf("remote.address %q is not a BLE address (AA:BB:CC:DD:EE:FF)", c.Remote.Address)
	}
	c.Remote.Address = strings.ToUpper(c.Remote.Address)
	if c.Remote.DeviceName == "" {
		return errors.New("remote.device_name must not be empty")
	}
	if c.Remote.GatttoolPath == "" {
		return errors.New("remote.gatttool_path must not be empty")
	}
	switch c.Remote.AddressType {
	case "", "public", "random":
	default:
		return fmt.Errorf("remote.address_type must be %q or %q", "public", "random")
	}

	// Webhook
	if c.Webhook.URL == "" {
		return errors.New("webhook.url must not be empty")
	}
	if err := validateHTTPURL(c.Webhook.URL); err != nil {
		return fmt.Errorf("webhook.url: %w", err)
	}
	if c.Webhook.ConnectTimeoutMS <= 0 {
		return errors.New("webhook.connect_timeout_ms must be > 0")
	}
	if c.Webhook.TimeoutMS <= 0 {
		return errors.New("webhook.timeout_ms must be > 0")
	}

	// Feedback
	if c.Feedback.Enabled {
		if c.Feedback.URL == "" {
			return errors.New("feedback.enabled is true but feedback.url is empty")
		}
		if err := validateHTTPURL(c.Feedback.URL); err != nil {
			return fmt.Errorf("feedback.url: %w", err)
		}
		if c.Feedback.TimeoutMS <= 0 {
			return errors.New("feedback.timeout_ms must be > 0")
		}
	}

	// Playlist
	if c.Playlist.TimeoutMS <= 0 {
		return errors.New("playlist.timeout_ms must be > 0")
	}
	for k := range c.Playlist.Map {
		if d, err := strconv.Atoi(k); err != nil || d < 0 || d > 9 || len(k) != 1 {
			return fmt.Errorf("playlist.map key %q must be a single digit", k)
		}
	}

	// Dispatch
	if c.Dispatch.MaxInFlight <= 0 {
		return errors.New("dispatch.max_in_flight must be > 0")
	}

	// Bluetooth
	if c.Bluetooth.Unit == "" {
		return errors.New("bluetooth.unit must not be empty")
	}

	// MQTT
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return errors.New("mqtt.enabled is true but mqtt.broker is empty")
		}
		if c.MQTT.TopicPrefix == "" {
			return errors.New("mqtt.topic_prefix must not be empty")
		}
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func msDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
