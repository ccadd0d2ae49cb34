package integration

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/pkg/errors"

	"github.com/alepar/wp6003/airquality/wp6003"
	"github.com/alepar/wp6003/hub"
)

const (
	testEntry = "entry-1"
	testAddr  = "60:03:03:aa:bb:0c"
)

func samplePayload() []byte {
	return []byte{
		0x0a, 0x17, 0x0a, 0x13, 0x0e, 0x1f,
		0x00, 0xfa,
		0x05, 0x01,
		0x01, 0x2c,
		0x00, 0x64,
		0x0f, 0x73,
		0x00, 0xc8,
	}
}

func sensorAdvert(addr string) hub.Advertisement {
	return hub.Advertisement{
		Address:          addr,
		RSSI:             -64,
		ManufacturerData: map[uint16][]byte{wp6003.ManufacturerID: samplePayload()},
		ServiceUUIDs:     []string{"fff0"},
	}
}

// countingRegistrar tracks how many scan callbacks are live.
type countingRegistrar struct {
	scanner *hub.Scanner
	live    atomic.Int32
	fail    bool
}

func (r *countingRegistrar) RegisterCallback(cb hub.ScanCallback, filter hub.ScanFilter) (func(), error) {
	if r.fail {
		return nil, errors.New("bluetooth integration not loaded")
	}
	unregister, err := r.scanner.RegisterCallback(cb, filter)
	if err != nil {
		return nil, err
	}
	r.live.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			r.live.Add(-1)
			unregister()
		})
	}, nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBus) Publish(topic, origin string, _ map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, topic+"/"+origin)
}

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

type fakePlatform struct {
	mu        sync.Mutex
	loaded    map[string]hub.ConfigEntry
	setups    int
	unloads   int
	setupErr  error
	unloadErr error
	panics    bool
	shutdowns int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{loaded: make(map[string]hub.ConfigEntry)}
}

func (p *fakePlatform) SetupEntry(entry hub.ConfigEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setups++
	if p.setupErr != nil {
		return p.setupErr
	}
	p.loaded[entry.ID] = entry
	return nil
}

func (p *fakePlatform) UnloadEntry(entryID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unloads++
	delete(p.loaded, entryID)
	if p.panics {
		panic("platform gone")
	}
	return p.unloadErr
}

func (p *fakePlatform) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutdowns++
}

func (p *fakePlatform) has(entryID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.loaded[entryID]
	return ok
}

type absentResolver struct{}

func (absentResolver) Resolve(string) (ble.Addr, bool) { return nil, false }

func refusingDialer() wp6003.Dialer {
	return wp6003.DialFunc(func(context.Context, ble.Addr) (wp6003.Client, error) {
		return nil, errors.New("refused")
	})
}
