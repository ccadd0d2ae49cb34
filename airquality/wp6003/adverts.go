package wp6003

import (
	"sync"
	"time"
)

const (
	// advertLogCapacity bounds the per-entry diagnostics history.
	advertLogCapacity = 25
	// DumpAdvertCount is how many records the dump operation reports.
	DumpAdvertCount = 10
)

// AdvertRecord summarizes one advertisement from the configured device.
type AdvertRecord struct {
	Timestamp       time.Time `json:"timestamp"`
	RSSI            int       `json:"rssi"`
	ManufacturerIDs []uint16  `json:"manufacturer_ids"`
	ServiceUUIDs    []string  `json:"service_uuids"`
}

// advertLog is a fixed size ring, overwriting the oldest record when full.
// It is purely diagnostic and never feeds decoding.
type advertLog struct {
	mu   sync.Mutex
	data []AdvertRecord
	size int
	head int
}

func newAdvertLog(capacity int) *advertLog {
	return &advertLog{data: make([]AdvertRecord, capacity)}
}

func (l *advertLog) add(rec AdvertRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.data[l.head] = rec
	l.head = (l.head + 1) % len(l.data)
	if l.size < len(l.data) {
		l.size++
	}
}

// recent returns up to n newest records, oldest first.
func (l *advertLog) recent(n int) []AdvertRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n > l.size {
		n = l.size
	}
	if n <= 0 {
		return nil
	}

	out := make([]AdvertRecord, n)
	start := l.head - n
	if start < 0 {
		start += len(l.data)
	}
	for i := 0; i < n; i++ {
		out[i] = l.data[(start+i)%len(l.data)]
	}
	return out
}

func (l *advertLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}
