package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/alepar/wp6003/airquality/wp6003"
	"github.com/alepar/wp6003/hub"
)

// Named operations registered by Setup.
const (
	ServiceDumpRecentAdverts = "dump_recent_adverts"
	ServiceReload            = "reload"
)

// Platform is a consumer that sets itself up per entry, such as the sensor projection.
type Platform interface {
	SetupEntry(entry hub.ConfigEntry) error
	UnloadEntry(entryID string) error
}

// Host bundles what the integration uses from the host.
type Host struct {
	Scanner   wp6003.ScanRegistrar
	Bus       wp6003.Publisher
	Sessions  *wp6003.SessionManager
	Services  *hub.Services
	Platforms []Platform
}

type loadedEntry struct {
	entry    hub.ConfigEntry
	listener *wp6003.Listener
	session  bool
}

// Coordinator owns the per-entry registrations and is the only code that
// creates or removes them.
type Coordinator struct {
	host   Host
	logger logrus.FieldLogger

	mu      sync.Mutex
	entries map[string]*loadedEntry
	wanted  map[string]hub.ConfigEntry
	locks   map[string]*entryLock
}

type entryLock struct {
	sync.Mutex
	refs int
}

// New returns a coordinator with nothing loaded.
func New(host Host, logger logrus.FieldLogger) *Coordinator {
	return &Coordinator{
		host:    host,
		logger:  logger,
		entries: make(map[string]*loadedEntry),
		wanted:  make(map[string]hub.ConfigEntry),
		locks:   make(map[string]*entryLock),
	}
}

// Setup registers the integration wide named operations.
func (c *Coordinator) Setup() bool {
	if c.host.Services == nil {
		c.logger.Error("no service registry, cannot set up integration")
		return false
	}

	c.host.Services.Register(wp6003.Domain, ServiceDumpRecentAdverts, func(context.Context) (interface{}, error) {
		return c.DumpRecentAdverts(), nil
	})
	c.host.Services.Register(wp6003.Domain, ServiceReload, func(context.Context) (interface{}, error) {
		reloaded, err := c.ReloadAll()
		return map[string]int{"reloaded": reloaded}, err
	})
	return true
}

// lockEntry serializes setup, unload and reload of one entry. The lock is
// dropped from the map once nobody holds or waits for it.
func (c *Coordinator) lockEntry(entryID string) (unlock func()) {
	c.mu.Lock()
	l, ok := c.locks[entryID]
	if !ok {
		l = &entryLock{}
		c.locks[entryID] = l
	}
	l.refs++
	c.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, entryID)
		}
		c.mu.Unlock()
	}
}

// SetupEntry starts the configured transport and the platforms for entry.
// Anything obtained before a failure is released again. A valid entry that
// fails to come up is kept and retried by ReloadAll.
func (c *Coordinator) SetupEntry(entry hub.ConfigEntry) bool {
	defer c.lockEntry(entry.ID)()
	return c.setupEntry(entry)
}

func (c *Coordinator) setupEntry(entry hub.ConfigEntry) bool {
	logger := c.logger.WithField("entry_id", entry.ID)

	if c.loaded(entry.ID) != nil {
		logger.Warn("entry already set up")
		return true
	}

	if err := c.prepare(&entry); err != nil {
		logger.WithError(err).Error("entry setup failed")
		return false
	}
	c.mu.Lock()
	c.wanted[entry.ID] = entry
	c.mu.Unlock()

	le := &loadedEntry{entry: entry}
	for i, p := range c.host.Platforms {
		if err := safely(func() error { return p.SetupEntry(entry) }); err != nil {
			logger.WithError(err).Error("entry setup failed")
			c.unloadPlatforms(entry.ID, c.host.Platforms[:i])
			return false
		}
	}

	if err := c.startTransport(le); err != nil {
		logger.WithError(err).Error("entry setup failed")
		c.unloadPlatforms(entry.ID, c.host.Platforms)
		return false
	}

	c.mu.Lock()
	c.entries[entry.ID] = le
	c.mu.Unlock()

	logger.WithFields(logrus.Fields{
		"address":   entry.MAC,
		"transport": entry.Transport,
	}).Info("entry set up")
	return true
}

func (c *Coordinator) prepare(entry *hub.ConfigEntry) error {
	if entry.ID == "" {
		return errors.New("entry has no id")
	}
	mac, err := hub.NormalizeMAC(entry.MAC)
	if err != nil {
		return err
	}
	transport, err := hub.ParseTransport(string(entry.Transport))
	if err != nil {
		return err
	}
	entry.MAC = mac
	entry.Transport = transport
	return nil
}

func (c *Coordinator) startTransport(le *loadedEntry) error {
	entry := le.entry
	switch entry.Transport {
	case hub.TransportGATT:
		if c.host.Sessions == nil {
			return errors.New("GATT transport not available")
		}
		return safely(func() error {
			if !c.host.Sessions.Start(entry.ID, entry.MAC) {
				c.logger.WithField("entry_id", entry.ID).Warn("GATT session was already running")
			}
			le.session = true
			return nil
		})
	default:
		return safely(func() error {
			l, err := wp6003.StartListener(c.host.Scanner, c.host.Bus, entry.ID, entry.MAC, c.logger)
			if err != nil {
				return err
			}
			le.listener = l
			return nil
		})
	}
}

// UnloadEntry stops everything registered for entryID. Teardown always
// completes; the result reports whether every platform unloaded cleanly.
func (c *Coordinator) UnloadEntry(entryID string) bool {
	defer c.lockEntry(entryID)()

	c.mu.Lock()
	delete(c.wanted, entryID)
	c.mu.Unlock()
	return c.unloadEntry(entryID)
}

func (c *Coordinator) unloadEntry(entryID string) bool {
	c.mu.Lock()
	le, ok := c.entries[entryID]
	delete(c.entries, entryID)
	c.mu.Unlock()

	logger := c.logger.WithField("entry_id", entryID)
	if !ok {
		logger.Debug("nothing to unload")
		return true
	}

	if le.listener != nil {
		if err := safely(func() error { le.listener.Stop(); return nil }); err != nil {
			logger.WithError(err).Warn("stopping listener failed")
		}
	}
	if le.session {
		if err := safely(func() error { c.host.Sessions.Stop(entryID); return nil }); err != nil {
			logger.WithError(err).Warn("stopping GATT session failed")
		}
	}

	ok = c.unloadPlatforms(entryID, c.host.Platforms)
	logger.Info("entry unloaded")
	return ok
}

func (c *Coordinator) unloadPlatforms(entryID string, platforms []Platform) bool {
	ok := true
	for _, p := range platforms {
		if err := safely(func() error { return p.UnloadEntry(entryID) }); err != nil {
			c.logger.WithError(err).WithField("entry_id", entryID).Warn("platform unload failed")
			ok = false
		}
	}
	return ok
}

// ReloadEntry unloads and sets entry up again. The two steps never overlap
// with other operations on the same entry.
func (c *Coordinator) ReloadEntry(entry hub.ConfigEntry) bool {
	defer c.lockEntry(entry.ID)()

	c.unloadEntry(entry.ID)
	return c.setupEntry(entry)
}

// ReloadAll reloads every set up entry, including those whose setup failed,
// and returns how many are loaded afterwards.
func (c *Coordinator) ReloadAll() (int, error) {
	c.mu.Lock()
	wanted := make([]hub.ConfigEntry, 0, len(c.wanted))
	for _, e := range c.wanted {
		wanted = append(wanted, e)
	}
	c.mu.Unlock()
	sort.Slice(wanted, func(i, j int) bool { return wanted[i].ID < wanted[j].ID })

	var failed []string
	reloaded := 0
	for _, entry := range wanted {
		if c.ReloadEntry(entry) {
			reloaded++
		} else {
			failed = append(failed, entry.ID)
		}
	}
	if len(failed) > 0 {
		return reloaded, errors.Errorf("reload failed for entries %v", failed)
	}
	return reloaded, nil
}

// Shutdown unloads all entries and removes the named operations. Platforms
// with a Shutdown method are told first.
func (c *Coordinator) Shutdown() {
	for _, p := range c.host.Platforms {
		if sp, ok := p.(interface{ Shutdown() }); ok {
			sp.Shutdown()
		}
	}
	for _, entry := range c.Entries() {
		c.UnloadEntry(entry.ID)
	}
	c.mu.Lock()
	c.wanted = make(map[string]hub.ConfigEntry)
	c.mu.Unlock()

	if c.host.Services != nil {
		c.host.Services.Remove(wp6003.Domain, ServiceDumpRecentAdverts)
		c.host.Services.Remove(wp6003.Domain, ServiceReload)
	}
}

// Entries returns the loaded entries sorted by id.
func (c *Coordinator) Entries() []hub.ConfigEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]hub.ConfigEntry, 0, len(c.entries))
	for _, le := range c.entries {
		out = append(out, le.entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Failed returns the ids of entries that were set up but are not loaded.
func (c *Coordinator) Failed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for id := range c.wanted {
		if _, ok := c.entries[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// DumpRecentAdverts returns the latest advertisements per listening entry
// and logs them.
func (c *Coordinator) DumpRecentAdverts() map[string][]wp6003.AdvertRecord {
	c.mu.Lock()
	listeners := make(map[string]*wp6003.Listener, len(c.entries))
	for id, le := range c.entries {
		if le.listener != nil {
			listeners[id] = le.listener
		}
	}
	c.mu.Unlock()

	out := make(map[string][]wp6003.AdvertRecord, len(listeners))
	for id, l := range listeners {
		recent := l.RecentAdverts(wp6003.DumpAdvertCount)
		out[id] = recent
		for _, rec := range recent {
			c.logger.WithFields(logrus.Fields{
				"entry_id":         id,
				"rssi":             rec.RSSI,
				"manufacturer_ids": rec.ManufacturerIDs,
				"service_uuids":    rec.ServiceUUIDs,
				"seen_at":          rec.Timestamp,
			}).Info("recent advertisement")
		}
	}
	return out
}

func (c *Coordinator) loaded(entryID string) *loadedEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[entryID]
}

// safely turns a panic in host code into an error.
func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(fmt.Sprint("panic: ", r))
		}
	}()
	return fn()
}
