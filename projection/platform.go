package projection

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/alepar/wp6003/airquality"
	"github.com/alepar/wp6003/airquality/wp6003"
	"github.com/alepar/wp6003/hub"
)

// Subscriber is the part of the event bus the platform listens on.
type Subscriber interface {
	Subscribe(topic string, handler func(hub.Event)) func()
}

// StateSink mirrors sensor state to an external system.
type StateSink interface {
	Announce(entry hub.ConfigEntry, sensor *Sensor) error
	PublishState(sensor *Sensor, value float64) error
	Retract(sensor *Sensor) error
}

var gaugeOpts = map[string]prometheus.GaugeOpts{
	airquality.KeyTemperature: {Name: "air_temperature", Help: "Air Temperature (units: degrees Celsius)"},
	airquality.KeyTVOC:        {Name: "air_tvoc_level", Help: "Air Total Volatile Organic Compounds level (units: mg/m3)"},
	airquality.KeyHCHO:        {Name: "air_hcho_level", Help: "Air Formaldehyde level (units: mg/m3)"},
	airquality.KeyCO2:         {Name: "air_co2_level", Help: "Air Carbon Dioxide level (units: ppm)"},
}

type loadedEntry struct {
	entry       hub.ConfigEntry
	sensors     []*Sensor
	unsubscribe func()
}

// Platform turns update events into per entry sensors, Prometheus gauges
// and, when a sink is set, external state.
type Platform struct {
	bus    Subscriber
	sink   StateSink
	gauges map[string]*prometheus.GaugeVec
	logger logrus.FieldLogger

	mu       sync.Mutex
	entries  map[string]*loadedEntry
	shutdown bool
}

// NewPlatform registers the gauges on reg. sink may be nil.
func NewPlatform(bus Subscriber, reg prometheus.Registerer, sink StateSink, logger logrus.FieldLogger) (*Platform, error) {
	p := &Platform{
		bus:     bus,
		sink:    sink,
		gauges:  make(map[string]*prometheus.GaugeVec, len(gaugeOpts)),
		logger:  logger,
		entries: make(map[string]*loadedEntry),
	}
	for _, m := range airquality.Metrics {
		g := prometheus.NewGaugeVec(gaugeOpts[m.Key], []string{"address"})
		if err := reg.Register(g); err != nil {
			return nil, errors.Wrapf(err, "couldn't register gauge for %s", m.Key)
		}
		p.gauges[m.Key] = g
	}
	return p, nil
}

// SetupEntry creates the sensors of entry and starts following its events.
func (p *Platform) SetupEntry(entry hub.ConfigEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[entry.ID]; ok {
		return errors.Errorf("entry %s already has sensors", entry.ID)
	}

	le := &loadedEntry{entry: entry}
	for _, m := range airquality.Metrics {
		s := newSensor(entry, m)
		le.sensors = append(le.sensors, s)
		if p.sink != nil {
			if err := p.sink.Announce(entry, s); err != nil {
				p.logger.WithError(err).WithField("sensor", s.UniqueID).Warn("announcing sensor failed")
			}
		}
	}

	le.unsubscribe = p.bus.Subscribe(wp6003.EventUpdate, func(ev hub.Event) {
		if ev.Origin == entry.ID {
			p.update(le, ev)
		}
	})
	p.entries[entry.ID] = le
	return nil
}

func (p *Platform) update(le *loadedEntry, ev hub.Event) {
	for _, s := range le.sensors {
		v, ok := airquality.Value(ev.Data, s.Key)
		if !ok {
			continue
		}
		s.set(v, ev.FiredAt)
		p.gauges[s.Key].WithLabelValues(s.Address).Set(v)

		if p.sink != nil {
			if err := p.sink.PublishState(s, v); err != nil {
				p.logger.WithError(err).WithField("sensor", s.UniqueID).Debug("publishing state failed")
			}
		}
	}
}

// UnloadEntry stops following the entry and forgets its sensors and series.
// The sink is told to retract the sensors unless the platform is shutting down.
func (p *Platform) UnloadEntry(entryID string) error {
	p.mu.Lock()
	le, ok := p.entries[entryID]
	delete(p.entries, entryID)
	p.mu.Unlock()
	if !ok {
		return nil
	}

	p.mu.Lock()
	retract := p.sink != nil && !p.shutdown
	p.mu.Unlock()

	le.unsubscribe()
	for _, s := range le.sensors {
		p.gauges[s.Key].DeleteLabelValues(s.Address)
		if retract {
			if err := p.sink.Retract(s); err != nil {
				p.logger.WithError(err).WithField("sensor", s.UniqueID).Warn("retracting sensor failed")
			}
		}
	}
	return nil
}

// Sensors returns the sensors of entryID in display order.
func (p *Platform) Sensors(entryID string) []*Sensor {
	p.mu.Lock()
	defer p.mu.Unlock()
	le, ok := p.entries[entryID]
	if !ok {
		return nil
	}
	return append([]*Sensor(nil), le.sensors...)
}

// Announce sends the discovery config of every loaded sensor to the sink again.
func (p *Platform) Announce() {
	if p.sink == nil {
		return
	}

	p.mu.Lock()
	loaded := make([]*loadedEntry, 0, len(p.entries))
	for _, le := range p.entries {
		loaded = append(loaded, le)
	}
	p.mu.Unlock()

	for _, le := range loaded {
		for _, s := range le.sensors {
			if err := p.sink.Announce(le.entry, s); err != nil {
				p.logger.WithError(err).WithField("sensor", s.UniqueID).Warn("announcing sensor failed")
			}
		}
	}
}

// Shutdown marks the process as stopping. Entries unloaded afterwards keep
// their discovery configs so the sensors survive a restart.
func (p *Platform) Shutdown() {
	p.mu.Lock()
	p.shutdown = true
	p.mu.Unlock()
}
