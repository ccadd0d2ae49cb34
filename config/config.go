package config

import (
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/alepar/wp6003/airquality/wp6003"
	"github.com/alepar/wp6003/hub"
	"github.com/alepar/wp6003/projection"
)

// Config is the daemon configuration.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	BLE     BLEConfig     `yaml:"ble"`
	Session SessionConfig `yaml:"session"`
	HTTP    HTTPConfig    `yaml:"http"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Entries []EntryConfig `yaml:"entries"`
}

type LoggingConfig struct {
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type BLEConfig struct {
	HCIDevice      int           `yaml:"hciDevice" env:"BLE_HCI_DEVICE" env-default:"0"`
	ConnectTimeout time.Duration `yaml:"connectTimeout" env:"BLE_CONNECT_TIMEOUT" env-default:"10s"`
	StaleAfter     time.Duration `yaml:"staleAfter" env:"BLE_STALE_AFTER" env-default:"3m"`
}

// SessionConfig tunes the GATT transport.
type SessionConfig struct {
	BackoffFloor      time.Duration `yaml:"backoffFloor" env-default:"5s"`
	SearchBackoffMax  time.Duration `yaml:"searchBackoffMax" env-default:"60s"`
	RetryBackoffMax   time.Duration `yaml:"retryBackoffMax" env-default:"120s"`
	NotFoundDelay     time.Duration `yaml:"notFoundDelay" env-default:"30s"`
	LivenessInterval  time.Duration `yaml:"livenessInterval" env-default:"60s"`
	DisconnectTimeout time.Duration `yaml:"disconnectTimeout" env-default:"5s"`
}

type HTTPConfig struct {
	ListenAddress string `yaml:"listenAddress" env:"LISTEN_ADDRESS" env-default:":8080"`
}

type MQTTConfig struct {
	Enabled         bool   `yaml:"enabled" env:"MQTT_ENABLED" env-default:"false"`
	Broker          string `yaml:"broker" env:"MQTT_BROKER" env-default:"tcp://localhost:1883"`
	ClientID        string `yaml:"clientId" env:"MQTT_CLIENT_ID" env-default:"wp6003"`
	Username        string `yaml:"username" env:"MQTT_USERNAME"`
	Password        string `yaml:"password" env:"MQTT_PASSWORD"`
	TopicPrefix     string `yaml:"topicPrefix" env-default:"wp6003"`
	DiscoveryPrefix string `yaml:"discoveryPrefix" env-default:"homeassistant"`
}

// EntryConfig is one configured sensor.
type EntryConfig struct {
	ID         string `yaml:"id"`
	Title      string `yaml:"title"`
	MACAddress string `yaml:"macAddress"`
	Transport  string `yaml:"transport"`
}

// Load reads a YAML file with environment overrides and validates it.
func Load(configPath string) (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return &cfg, nil
}

// Validate checks the configuration and normalizes case sensitive fields.
func (c *Config) Validate() error {
	if len(c.Entries) == 0 {
		return errors.New("at least one entry must be configured")
	}

	seenIDs := make(map[string]bool)
	seenMACs := make(map[string]bool)
	for i := range c.Entries {
		e := &c.Entries[i]
		if e.ID == "" {
			return errors.Errorf("entry %d: id is required", i)
		}
		if seenIDs[e.ID] {
			return errors.Errorf("entry %s: duplicate id", e.ID)
		}
		seenIDs[e.ID] = true

		mac, err := hub.NormalizeMAC(e.MACAddress)
		if err != nil {
			return errors.Wrapf(err, "entry %s", e.ID)
		}
		if seenMACs[mac] {
			return errors.Errorf("entry %s: duplicate MAC address %s", e.ID, mac)
		}
		seenMACs[mac] = true
		e.MACAddress = mac

		if _, err := hub.ParseTransport(e.Transport); err != nil {
			return errors.Wrapf(err, "entry %s", e.ID)
		}
	}

	if c.BLE.HCIDevice < 0 {
		return errors.New("hci device must be >= 0")
	}
	if c.BLE.ConnectTimeout <= 0 {
		return errors.New("ble connect timeout must be positive")
	}
	if c.BLE.StaleAfter <= 0 {
		return errors.New("ble stale after must be positive")
	}
	if err := c.Session.validate(); err != nil {
		return errors.Wrap(err, "session")
	}

	c.Logging.Format = strings.ToLower(c.Logging.Format)
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return errors.Errorf("log format must be 'text' or 'json', got: %s", c.Logging.Format)
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return errors.Wrap(err, "log level")
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return errors.New("mqtt broker is required when mqtt is enabled")
	}
	return nil
}

func (s SessionConfig) validate() error {
	positive := []struct {
		name string
		d    time.Duration
	}{
		{"backoffFloor", s.BackoffFloor},
		{"searchBackoffMax", s.SearchBackoffMax},
		{"retryBackoffMax", s.RetryBackoffMax},
		{"notFoundDelay", s.NotFoundDelay},
		{"livenessInterval", s.LivenessInterval},
		{"disconnectTimeout", s.DisconnectTimeout},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return errors.Errorf("%s must be positive, got %s", p.name, p.d)
		}
	}
	if s.SearchBackoffMax < s.BackoffFloor {
		return errors.Errorf("searchBackoffMax %s is below backoffFloor %s", s.SearchBackoffMax, s.BackoffFloor)
	}
	if s.RetryBackoffMax < s.BackoffFloor {
		return errors.Errorf("retryBackoffMax %s is below backoffFloor %s", s.RetryBackoffMax, s.BackoffFloor)
	}
	return nil
}

// NewLogger builds the process logger.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}

	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetLevel(level)
	if c.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}

func (c *Config) SessionOptions() wp6003.SessionOptions {
	s := c.Session
	return wp6003.SessionOptions{
		BackoffFloor:      s.BackoffFloor,
		SearchBackoffMax:  s.SearchBackoffMax,
		RetryBackoffMax:   s.RetryBackoffMax,
		NotFoundDelay:     s.NotFoundDelay,
		LivenessInterval:  s.LivenessInterval,
		DisconnectTimeout: s.DisconnectTimeout,
	}
}

func (c *Config) ScannerOptions() hub.ScannerOptions {
	return hub.ScannerOptions{StaleAfter: c.BLE.StaleAfter}
}

func (c *Config) MQTTOptions() projection.MQTTOptions {
	m := c.MQTT
	return projection.MQTTOptions{
		Broker:          m.Broker,
		ClientID:        m.ClientID,
		Username:        m.Username,
		Password:        m.Password,
		TopicPrefix:     m.TopicPrefix,
		DiscoveryPrefix: m.DiscoveryPrefix,
	}
}

// PrintConfig logs the configuration with secrets masked.
func (c *Config) PrintConfig(logger logrus.FieldLogger) {
	entries := make([]string, len(c.Entries))
	for i, e := range c.Entries {
		entries[i] = e.ID + " (" + e.MACAddress + ", " + transportName(e.Transport) + ")"
	}

	logger.WithFields(logrus.Fields{
		"entries":           entries,
		"hci_device":        c.BLE.HCIDevice,
		"connect_timeout":   c.BLE.ConnectTimeout,
		"listen_address":    c.HTTP.ListenAddress,
		"mqtt_enabled":      c.MQTT.Enabled,
		"mqtt_broker":       c.MQTT.Broker,
		"mqtt_password_set": c.MQTT.Password != "",
		"log_format":        c.Logging.Format,
		"log_level":         c.Logging.Level,
	}).Info("configuration loaded")
}

func transportName(s string) string {
	t, err := hub.ParseTransport(s)
	if err != nil {
		return s
	}
	return string(t)
}
