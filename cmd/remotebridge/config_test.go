package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
remote:
  address: aa:bb:cc:dd:ee:ff
  device_name: living-room
  adapter: hci1
webhook:
  url: http://ha.local:8123/api/webhook/remote
feedback:
  enabled: true
  url: http://ha.local:8123/api/webhook/pulse
playlist:
  timeout_ms: 800
  map:
    "1": spotify:playlist:one
mqtt:
  enabled: true
  broker: tcp://broker.local:1883
logging:
  level: debug
`

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Remote.Address = "AA:BB:CC:DD:EE:FF"
	cfg.Webhook.URL = "http://ha.local/api/webhook/x"
	return cfg
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.Remote.Address, "address is upper-cased")
	assert.Equal(t, "living-room", cfg.Remote.DeviceName)
	assert.Equal(t, "hci1", cfg.Remote.Adapter)
	assert.Equal(t, "gatttool", cfg.Remote.GatttoolPath, "defaults survive partial sections")
	assert.Equal(t, defaultWebhookTimeoutMS, cfg.Webhook.TimeoutMS)
	assert.Equal(t, "pulse", cfg.Feedback.Mode)
	assert.Equal(t, 800, cfg.Playlist.TimeoutMS)
	assert.Equal(t, "spotify:playlist:one", cfg.Playlist.Map["1"])
	assert.Equal(t, "remotebridge", cfg.MQTT.TopicPrefix)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfigFile_RejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("remote:\n  adress: AA:BB:CC:DD:EE:FF\n"), 0o600))

	_, err := LoadConfigFile(path)
	assert.ErrorContains(t, err, "adress")
}

func TestLoadConfigFile_Errors(t *testing.T) {
	_, err := LoadConfigFile("")
	assert.Error(t, err)

	_, err = LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = parseConfig([]byte("logging:\n  level: info\n---\nlogging:\n  level: debug\n"))
	assert.ErrorContains(t, err, "trailing document")
}

func TestFlagOverrides_Apply(t *testing.T) {
	cfg := DefaultConfig()
	addr := "11:22:33:44:55:66"
	fb := "http://pulse.local/x"
	empty := ""
	level := "warn"

	FlagOverrides{Address: &addr, FeedbackURL: &fb, LogLevel: &level}.Apply(&cfg)
	assert.Equal(t, addr, cfg.Remote.Address)
	assert.True(t, cfg.Feedback.Enabled)
	assert.Equal(t, fb, cfg.Feedback.URL)
	assert.Equal(t, "warn", cfg.Logging.Level)

	FlagOverrides{FeedbackURL: &empty, FeedListen: &empty}.Apply(&cfg)
	assert.False(t, cfg.Feedback.Enabled)
	assert.Empty(t, cfg.Feed.Listen)

	FlagOverrides{}.Apply(nil)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing address", func(c *Config) { c.Remote.Address = "" }, "remote.address"},
		{"bad address", func(c *Config) { c.Remote.Address = "AA:BB:CC" }, "remote.address"},
		{"bad address type", func(c *Config) { c.Remote.AddressType = "static" }, "remote.address_type"},
		{"missing webhook", func(c *Config) { c.Webhook.URL = "" }, "webhook.url"},
		{"webhook scheme", func(c *Config) { c.Webhook.URL = "ftp://x/y" }, "webhook.url"},
		{"webhook timeout", func(c *Config) { c.Webhook.TimeoutMS = 0 }, "webhook.timeout_ms"},
		{"feedback without url", func(c *Config) { c.Feedback.Enabled = true }, "feedback.url"},
		{"playlist key", func(c *Config) { c.Playlist.Map = map[string]string{"12": "x"} }, "playlist.map"},
		{"pool size", func(c *Config) { c.Dispatch.MaxInFlight = 0 }, "dispatch.max_in_flight"},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true }, "mqtt.broker"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, "", ExpandPath(""))
	assert.Equal(t, "/etc/x", ExpandPath("/etc/x"))
	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, filepath.Join(home, "cfg.yaml"), ExpandPath("~/cfg.yaml"))
	assert.Equal(t, "~user/x", ExpandPath("~user/x"))
}
