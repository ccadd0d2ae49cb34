package projection

import (
	"strings"
	"sync"
	"time"

	"github.com/alepar/wp6003/airquality"
	"github.com/alepar/wp6003/airquality/wp6003"
	"github.com/alepar/wp6003/hub"
)

// Sensor holds the last known value of one metric of one entry.
type Sensor struct {
	UniqueID string
	Name     string
	Unit     string
	Key      string
	Address  string

	mu      sync.RWMutex
	value   float64
	known   bool
	updated time.Time
}

func newSensor(entry hub.ConfigEntry, m airquality.Metric) *Sensor {
	return &Sensor{
		UniqueID: UniqueID(entry.MAC, m.Key),
		Name:     entry.Title + " " + m.Name,
		Unit:     m.Unit,
		Key:      m.Key,
		Address:  entry.MAC,
	}
}

// Value returns the last value and whether one was ever received.
func (s *Sensor) Value() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, s.known
}

// Updated returns when the value last changed hands.
func (s *Sensor) Updated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}

func (s *Sensor) set(v float64, at time.Time) {
	s.mu.Lock()
	s.value = v
	s.known = true
	s.updated = at
	s.mu.Unlock()
}

// UniqueID is the stable identifier of the sensor for key on device mac.
func UniqueID(mac, key string) string {
	return wp6003.Domain + "_" + macHex(mac) + "_" + key
}

func macHex(mac string) string {
	return strings.ReplaceAll(strings.ToLower(mac), ":", "")
}
