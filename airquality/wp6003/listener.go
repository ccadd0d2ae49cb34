package wp6003

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/alepar/wp6003/hub"
)

// ScanRegistrar subscribes callbacks to the host scan stream.
type ScanRegistrar interface {
	RegisterCallback(cb hub.ScanCallback, filter hub.ScanFilter) (func(), error)
}

// Publisher posts events on the host bus.
type Publisher interface {
	Publish(topic, origin string, data map[string]interface{})
}

// Listener decodes passive advertisements of one device.
type Listener struct {
	entryID string
	address string
	bus     Publisher
	adverts *advertLog
	logger  logrus.FieldLogger

	mu         sync.RWMutex
	stopped    bool
	unregister func()
}

// StartListener registers a catch-all scan callback and filters by address
// itself; a host level manufacturer filter misses some of the device's
// advertisement shapes. address must already be normalized.
func StartListener(scanner ScanRegistrar, bus Publisher, entryID, address string, logger logrus.FieldLogger) (*Listener, error) {
	l := &Listener{
		entryID: entryID,
		address: address,
		bus:     bus,
		adverts: newAdvertLog(advertLogCapacity),
		logger: logger.WithFields(logrus.Fields{
			"entry_id": entryID,
			"address":  address,
		}),
	}

	unregister, err := scanner.RegisterCallback(l.handle, hub.ScanFilter{})
	if err != nil {
		return nil, errors.Wrap(err, "couldn't register advertisement callback")
	}

	l.mu.Lock()
	l.unregister = unregister
	l.mu.Unlock()

	l.logger.Info("listening for advertisements")
	return l, nil
}

func (l *Listener) handle(adv hub.Advertisement) {
	if adv.Address != l.address {
		return
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.stopped {
		return
	}

	l.adverts.add(AdvertRecord{
		Timestamp:       adv.SeenAt,
		RSSI:            adv.RSSI,
		ManufacturerIDs: adv.ManufacturerIDs(),
		ServiceUUIDs:    adv.ServiceUUIDs,
	})

	payload, ok := adv.ManufacturerData[ManufacturerID]
	if !ok {
		l.logger.WithField("manufacturer_ids", adv.ManufacturerIDs()).Debug("advertisement without sensor payload")
		return
	}

	reading, err := Decode(payload)
	if err != nil {
		decodeFailuresTotal.WithLabelValues(sourceAdvertisement).Inc()
		l.logger.WithError(err).Debug("couldn't decode advertisement")
		return
	}

	readingsTotal.WithLabelValues(sourceAdvertisement).Inc()
	l.bus.Publish(EventUpdate, l.entryID, reading.Fields())
}

// Stop removes the scan callback and waits for in-flight callbacks, so no
// event is published once it returns. Calling it again does nothing.
func (l *Listener) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	unregister := l.unregister
	l.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			l.logger.WithField("panic", r).Warn("unregistering advertisement callback failed")
		}
	}()
	if unregister != nil {
		unregister()
	}
	l.logger.Info("stopped listening for advertisements")
}

// RecentAdverts returns up to n of the latest advertisements seen from the device, oldest first.
func (l *Listener) RecentAdverts(n int) []AdvertRecord {
	return l.adverts.recent(n)
}
