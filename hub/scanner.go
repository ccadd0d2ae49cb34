package hub

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/mcuadros/go-defaults"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ScanCallback receives every advertisement that passes its filter.
type ScanCallback func(Advertisement)

// ScanFilter narrows the advertisements delivered to a callback. Zero fields
// match everything, so ScanFilter{} is a catch-all registration.
type ScanFilter struct {
	Address        string
	ManufacturerID uint16
}

func (f ScanFilter) match(adv Advertisement) bool {
	if f.Address != "" && !strings.EqualFold(f.Address, adv.Address) {
		return false
	}
	if f.ManufacturerID != 0 {
		if _, ok := adv.ManufacturerData[f.ManufacturerID]; !ok {
			return false
		}
	}
	return true
}

// ScannerOptions tunes the scanner. Zero values are replaced by the tag defaults.
type ScannerOptions struct {
	// connectable devices not heard from for this long are no longer resolvable
	StaleAfter time.Duration `default:"3m"`
}

type registration struct {
	filter   ScanFilter
	callback ScanCallback
}

type seenDevice struct {
	addr        ble.Addr
	rssi        int
	connectable bool
	lastSeen    time.Time
}

// Scanner owns the radio scan and fans advertisements out to registered
// callbacks. It also serves as the registry of recently seen devices.
type Scanner struct {
	dev    ble.Device
	opts   ScannerOptions
	logger logrus.FieldLogger

	mu        sync.RWMutex
	callbacks map[uint64]registration
	nextID    uint64

	devices *hashmap.Map[string, seenDevice]
}

// NewScanner creates a scanner over dev. dev may be nil when advertisements
// are only injected through Dispatch.
func NewScanner(dev ble.Device, opts ScannerOptions, logger logrus.FieldLogger) *Scanner {
	defaults.SetDefaults(&opts)
	return &Scanner{
		dev:       dev,
		opts:      opts,
		logger:    logger,
		callbacks: make(map[uint64]registration),
		devices:   hashmap.New[string, seenDevice](),
	}
}

// RegisterCallback subscribes cb to the scan stream. The returned function
// removes the subscription and may be called any number of times.
func (s *Scanner) RegisterCallback(cb ScanCallback, filter ScanFilter) (func(), error) {
	if cb == nil {
		return nil, errors.New("scan callback is nil")
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.callbacks[id] = registration{filter: filter, callback: cb}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.callbacks, id)
			s.mu.Unlock()
		})
	}, nil
}

// Run scans until ctx is done.
func (s *Scanner) Run(ctx context.Context) error {
	if s.dev == nil {
		return errors.New("no BLE device to scan with")
	}

	s.logger.Info("starting BLE scan")
	err := s.dev.Scan(ctx, true, s.handleAdvertisement)
	switch errors.Cause(err) {
	case nil, context.Canceled, context.DeadlineExceeded:
		s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan stopped")
		return nil
	default:
		return errors.Wrap(err, "failed to scan for devices")
	}
}

func (s *Scanner) handleAdvertisement(a ble.Advertisement) {
	adv := FromBLE(a)
	s.record(adv, a.Addr())
	s.dispatch(adv)
}

// Dispatch delivers adv to every matching callback as if it came off the radio.
func (s *Scanner) Dispatch(adv Advertisement) {
	adv.Address = strings.ToLower(adv.Address)
	if adv.SeenAt.IsZero() {
		adv.SeenAt = time.Now()
	}
	s.record(adv, ble.NewAddr(adv.Address))
	s.dispatch(adv)
}

func (s *Scanner) record(adv Advertisement, addr ble.Addr) {
	s.devices.Set(adv.Address, seenDevice{
		addr:        addr,
		rssi:        adv.RSSI,
		connectable: adv.Connectable,
		lastSeen:    adv.SeenAt,
	})
}

func (s *Scanner) dispatch(adv Advertisement) {
	s.mu.RLock()
	matched := make([]ScanCallback, 0, len(s.callbacks))
	for _, reg := range s.callbacks {
		if reg.filter.match(adv) {
			matched = append(matched, reg.callback)
		}
	}
	s.mu.RUnlock()

	for _, cb := range matched {
		s.invoke(cb, adv)
	}
}

func (s *Scanner) invoke(cb ScanCallback, adv Advertisement) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"address": adv.Address,
				"panic":   r,
			}).Error("scan callback panicked")
		}
	}()
	cb(adv)
}

// Resolve returns the address of a connectable device heard recently.
func (s *Scanner) Resolve(address string) (ble.Addr, bool) {
	dev, ok := s.devices.Get(strings.ToLower(address))
	if !ok || !dev.connectable {
		return nil, false
	}
	if time.Since(dev.lastSeen) > s.opts.StaleAfter {
		return nil, false
	}
	return dev.addr, true
}

// DeviceInfo is a registry snapshot of one device.
type DeviceInfo struct {
	Address     string    `json:"address"`
	RSSI        int       `json:"rssi"`
	Connectable bool      `json:"connectable"`
	LastSeen    time.Time `json:"last_seen"`
}

// Devices returns every device seen so far, sorted by address.
func (s *Scanner) Devices() []DeviceInfo {
	devs := make([]DeviceInfo, 0, s.devices.Len())
	s.devices.Range(func(key string, value seenDevice) bool {
		devs = append(devs, DeviceInfo{
			Address:     key,
			RSSI:        value.rssi,
			Connectable: value.connectable,
			LastSeen:    value.lastSeen,
		})
		return true
	})
	sort.Slice(devs, func(i, j int) bool { return devs[i].Address < devs[j].Address })
	return devs
}
