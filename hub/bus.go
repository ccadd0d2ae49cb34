package hub

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const subscriberBuffer = 64

// Event is one message on the bus. Origin names the entry that produced it.
type Event struct {
	Topic   string
	Origin  string
	Data    map[string]interface{}
	FiredAt time.Time
}

type subscriber struct {
	ch   chan Event
	done chan struct{}
}

// Bus is a process wide publish/subscribe channel. Each subscriber gets its
// own buffered queue and goroutine, so a slow consumer never stalls a producer.
type Bus struct {
	logger logrus.FieldLogger

	mu     sync.RWMutex
	subs   map[string]map[uint64]*subscriber
	nextID uint64
}

// NewBus returns an empty bus.
func NewBus(logger logrus.FieldLogger) *Bus {
	return &Bus{
		logger: logger,
		subs:   make(map[string]map[uint64]*subscriber),
	}
}

// Publish delivers data to every subscriber of topic. A subscriber whose
// queue is full misses the event.
func (b *Bus) Publish(topic, origin string, data map[string]interface{}) {
	ev := Event{Topic: topic, Origin: origin, Data: data, FiredAt: time.Now()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[topic] {
		select {
		case sub.ch <- ev:
		default:
			b.logger.WithFields(logrus.Fields{
				"topic":  topic,
				"origin": origin,
			}).Warn("subscriber queue full, dropping event")
		}
	}
}

// Subscribe registers handler for topic. The returned function stops
// delivery and waits for the handler to drain; do not call it from inside
// the handler.
func (b *Bus) Subscribe(topic string, handler func(Event)) func() {
	sub := &subscriber{
		ch:   make(chan Event, subscriberBuffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]*subscriber)
	}
	b.subs[topic][id] = sub
	b.mu.Unlock()

	go func() {
		defer close(sub.done)
		for ev := range sub.ch {
			handler(ev)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[topic], id)
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
			close(sub.ch)
			b.mu.Unlock()
			<-sub.done
		})
	}
}

// Subscribers returns the number of live subscriptions on topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
