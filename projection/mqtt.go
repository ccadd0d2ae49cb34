package projection

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/mcuadros/go-defaults"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/alepar/wp6003/airquality"
	"github.com/alepar/wp6003/airquality/wp6003"
	"github.com/alepar/wp6003/hub"
)

var (
	errNotConnected = errors.New("mqtt client not connected")
	errStopped      = errors.New("mqtt client stopped")
)

// MQTTOptions configures the broker connection and topic layout.
type MQTTOptions struct {
	Broker          string `default:"tcp://localhost:1883"`
	ClientID        string `default:"wp6003"`
	Username        string
	Password        string
	TopicPrefix     string        `default:"wp6003"`
	DiscoveryPrefix string        `default:"homeassistant"`
	PublishTimeout  time.Duration `default:"5s"`
}

// MQTTSink publishes sensor state and Home Assistant discovery configs.
type MQTTSink struct {
	client mqtt.Client
	opts   MQTTOptions
	logger logrus.FieldLogger

	mu        sync.RWMutex
	connected bool
	onConnect func()

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMQTTSink prepares a client. Nothing is sent before Connect.
func NewMQTTSink(opts MQTTOptions, logger logrus.FieldLogger) *MQTTSink {
	defaults.SetDefaults(&opts)
	s := &MQTTSink{
		opts:   opts,
		logger: logger.WithField("broker", opts.Broker),
		stopCh: make(chan struct{}),
	}

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	co.SetCleanSession(true)
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(5 * time.Second)
	co.SetMaxReconnectInterval(60 * time.Second)
	co.SetKeepAlive(30 * time.Second)
	co.SetPingTimeout(10 * time.Second)

	co.SetOnConnectHandler(s.handleConnect)
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.setConnected(false)
		s.logger.WithError(err).Warn("mqtt connection lost")
	})

	s.client = mqtt.NewClient(co)
	return s
}

// OnConnect sets fn to run after every successful (re)connection, so
// retained discovery configs survive a broker that lost them.
func (s *MQTTSink) OnConnect(fn func()) {
	s.mu.Lock()
	s.onConnect = fn
	s.mu.Unlock()
}

func (s *MQTTSink) handleConnect(mqtt.Client) {
	s.setConnected(true)
	s.logger.Info("mqtt connected")

	s.mu.RLock()
	fn := s.onConnect
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Connect waits for the first connection to the broker.
func (s *MQTTSink) Connect(ctx context.Context) error {
	select {
	case <-s.stopCh:
		return errStopped
	default:
	}
	if s.IsConnected() {
		return nil
	}

	token := s.client.Connect()
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			return errors.Wrap(token.Error(), "mqtt connect")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return errStopped
		default:
		}
	}
}

// Announce publishes the retained discovery config of sensor.
func (s *MQTTSink) Announce(entry hub.ConfigEntry, sensor *Sensor) error {
	payload, err := DiscoveryPayload(entry, sensor, StateTopic(s.opts.TopicPrefix, sensor))
	if err != nil {
		return err
	}
	return s.publish(DiscoveryTopic(s.opts.DiscoveryPrefix, sensor), true, payload)
}

// PublishState publishes the current value of sensor.
func (s *MQTTSink) PublishState(sensor *Sensor, value float64) error {
	return s.publish(StateTopic(s.opts.TopicPrefix, sensor), false, []byte(strconv.FormatFloat(value, 'f', -1, 64)))
}

// Retract clears the retained discovery config, removing the sensor.
func (s *MQTTSink) Retract(sensor *Sensor) error {
	return s.publish(DiscoveryTopic(s.opts.DiscoveryPrefix, sensor), true, []byte{})
}

func (s *MQTTSink) publish(topic string, retained bool, payload []byte) error {
	if !s.IsConnected() {
		return errNotConnected
	}

	token := s.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(s.opts.PublishTimeout) {
		return errors.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "publish to %s", topic)
	}
	s.logger.WithField("topic", topic).Debug("published")
	return nil
}

// IsConnected reports whether the broker connection is up.
func (s *MQTTSink) IsConnected() bool {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	return connected && s.client.IsConnected()
}

// Disconnect stops the client. Connect fails afterwards.
func (s *MQTTSink) Disconnect() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.client.Disconnect(250)
	s.setConnected(false)
	s.logger.Info("mqtt disconnected")
}

func (s *MQTTSink) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

// StateTopic is where the values of sensor are published.
func StateTopic(prefix string, sensor *Sensor) string {
	return prefix + "/" + macHex(sensor.Address) + "/" + sensor.Key
}

// DiscoveryTopic is where Home Assistant looks for the config of sensor.
func DiscoveryTopic(prefix string, sensor *Sensor) string {
	return prefix + "/sensor/" + sensor.UniqueID + "/config"
}

type discoveryDevice struct {
	Identifiers  []string   `json:"identifiers"`
	Connections  [][]string `json:"connections"`
	Name         string     `json:"name"`
	Manufacturer string     `json:"manufacturer"`
	Model        string     `json:"model"`
}

type discoveryConfig struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	StateTopic        string          `json:"state_topic"`
	UnitOfMeasurement string          `json:"unit_of_measurement"`
	DeviceClass       string          `json:"device_class,omitempty"`
	StateClass        string          `json:"state_class"`
	Device            discoveryDevice `json:"device"`
}

var deviceClasses = map[string]string{
	airquality.KeyTemperature: "temperature",
	airquality.KeyCO2:         "carbon_dioxide",
	airquality.KeyTVOC:        "volatile_organic_compounds",
}

// DiscoveryPayload builds the Home Assistant discovery config of sensor.
func DiscoveryPayload(entry hub.ConfigEntry, sensor *Sensor, stateTopic string) ([]byte, error) {
	cfg := discoveryConfig{
		Name:              sensor.Name,
		UniqueID:          sensor.UniqueID,
		StateTopic:        stateTopic,
		UnitOfMeasurement: sensor.Unit,
		DeviceClass:       deviceClasses[sensor.Key],
		StateClass:        "measurement",
		Device: discoveryDevice{
			Identifiers:  []string{wp6003.Domain + "_" + macHex(entry.MAC)},
			Connections:  [][]string{{"mac", entry.MAC}},
			Name:         entry.Title,
			Manufacturer: "Vson",
			Model:        "WP6003",
		},
	}
	data, err := json.Marshal(cfg)
	return data, errors.Wrap(err, "marshal discovery config")
}
