package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
logging:
  format: JSON
  level: debug
ble:
  hciDevice: 1
  connectTimeout: 15s
session:
  retryBackoffMax: 90s
http:
  listenAddress: ":9100"
mqtt:
  enabled: true
  broker: tcp://mqtt.lan:1883
  password: secret
entries:
  - id: living-room
    title: Living Room
    macAddress: "60:03:03:AA:BB:0C"
  - id: bedroom
    macAddress: "60:03:03:aa:bb:0d"
    transport: gatt
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 1, cfg.BLE.HCIDevice)
	assert.Equal(t, 15*time.Second, cfg.BLE.ConnectTimeout)
	assert.Equal(t, 3*time.Minute, cfg.BLE.StaleAfter)
	assert.Equal(t, ":9100", cfg.HTTP.ListenAddress)

	require.Len(t, cfg.Entries, 2)
	assert.Equal(t, "60:03:03:aa:bb:0c", cfg.Entries[0].MACAddress)
	assert.Equal(t, "gatt", cfg.Entries[1].Transport)

	opts := cfg.SessionOptions()
	assert.Equal(t, 5*time.Second, opts.BackoffFloor)
	assert.Equal(t, 90*time.Second, opts.RetryBackoffMax)
	assert.Equal(t, 60*time.Second, opts.SearchBackoffMax)

	mqtt := cfg.MQTTOptions()
	assert.Equal(t, "tcp://mqtt.lan:1883", mqtt.Broker)
	assert.Equal(t, "homeassistant", mqtt.DiscoveryPrefix)
	assert.Equal(t, 3*time.Minute, cfg.ScannerOptions().StaleAfter)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
entries:
  - id: e1
    macAddress: "60:03:03:aa:bb:0c"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, ":8080", cfg.HTTP.ListenAddress)
	assert.Equal(t, 10*time.Second, cfg.BLE.ConnectTimeout)
	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Session.NotFoundDelay)
}

func TestLoad_RejectsNegativeLiveness(t *testing.T) {
	path := writeConfig(t, `
session:
  livenessInterval: -1s
entries:
  - id: e1
    macAddress: "60:03:03:aa:bb:0c"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "livenessInterval")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Logging: LoggingConfig{Format: "text", Level: "info"},
			BLE:     BLEConfig{ConnectTimeout: 10 * time.Second, StaleAfter: 3 * time.Minute},
			Session: SessionConfig{
				BackoffFloor:      5 * time.Second,
				SearchBackoffMax:  60 * time.Second,
				RetryBackoffMax:   120 * time.Second,
				NotFoundDelay:     30 * time.Second,
				LivenessInterval:  60 * time.Second,
				DisconnectTimeout: 5 * time.Second,
			},
			Entries: []EntryConfig{{ID: "e1", MACAddress: "60:03:03:aa:bb:0c"}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no entries", func(c *Config) { c.Entries = nil }, "at least one entry"},
		{"missing id", func(c *Config) { c.Entries[0].ID = "" }, "id is required"},
		{"bad mac", func(c *Config) { c.Entries[0].MACAddress = "60:03:03:aa:bb" }, "invalid MAC address"},
		{"duplicate id", func(c *Config) {
			c.Entries = append(c.Entries, EntryConfig{ID: "e1", MACAddress: "60:03:03:aa:bb:0d"})
		}, "duplicate id"},
		{"duplicate mac", func(c *Config) {
			c.Entries = append(c.Entries, EntryConfig{ID: "e2", MACAddress: "60:03:03:AA:BB:0C"})
		}, "duplicate MAC"},
		{"bad transport", func(c *Config) { c.Entries[0].Transport = "zigbee" }, "unknown transport"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "log format"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "log level"},
		{"negative hci", func(c *Config) { c.BLE.HCIDevice = -1 }, "hci device"},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true }, "mqtt broker"},
		{"zero connect timeout", func(c *Config) { c.BLE.ConnectTimeout = 0 }, "connect timeout"},
		{"negative stale after", func(c *Config) { c.BLE.StaleAfter = -time.Minute }, "stale after"},
		{"negative liveness", func(c *Config) { c.Session.LivenessInterval = -time.Second }, "livenessInterval must be positive"},
		{"zero backoff floor", func(c *Config) { c.Session.BackoffFloor = 0 }, "backoffFloor must be positive"},
		{"negative not found delay", func(c *Config) { c.Session.NotFoundDelay = -time.Second }, "notFoundDelay must be positive"},
		{"zero disconnect timeout", func(c *Config) { c.Session.DisconnectTimeout = 0 }, "disconnectTimeout must be positive"},
		{"search cap below floor", func(c *Config) { c.Session.SearchBackoffMax = time.Second }, "searchBackoffMax 1s is below"},
		{"retry cap below floor", func(c *Config) { c.Session.RetryBackoffMax = 2 * time.Second }, "retryBackoffMax 2s is below"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	c := &Config{Logging: LoggingConfig{Format: "json", Level: "warn"}}
	logger, err := c.NewLogger()
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	c.Logging.Format = "text"
	logger, err = c.NewLogger()
	require.NoError(t, err)
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}
