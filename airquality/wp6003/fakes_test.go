package wp6003

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/alepar/wp6003/hub"
)

type published struct {
	topic  string
	origin string
	data   map[string]interface{}
}

type recordingBus struct {
	mu     sync.Mutex
	events []published
}

func (b *recordingBus) Publish(topic, origin string, data map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, published{topic: topic, origin: origin, data: data})
}

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func (b *recordingBus) last() published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.events[len(b.events)-1]
}

type failingRegistrar struct{}

func (failingRegistrar) RegisterCallback(hub.ScanCallback, hub.ScanFilter) (func(), error) {
	return nil, errors.New("bluetooth integration not loaded")
}

type panickingRegistrar struct {
	cb hub.ScanCallback
}

func (r *panickingRegistrar) RegisterCallback(cb hub.ScanCallback, _ hub.ScanFilter) (func(), error) {
	r.cb = cb
	return func() { panic("already unregistered") }, nil
}
