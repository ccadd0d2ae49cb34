package hub

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/go-ble/ble"
)

// Advertisement is one observed scan result.
type Advertisement struct {
	// lower-case colon separated
	Address string
	RSSI    int

	// keyed by company identifier, company id bytes stripped
	ManufacturerData map[uint16][]byte
	ServiceUUIDs     []string
	Connectable      bool
	SeenAt           time.Time
}

// ManufacturerIDs returns the company identifiers present in the advertisement.
func (a Advertisement) ManufacturerIDs() []uint16 {
	ids := make([]uint16, 0, len(a.ManufacturerData))
	for id := range a.ManufacturerData {
		ids = append(ids, id)
	}
	return ids
}

// FromBLE converts a go-ble advertisement. The raw manufacturer data field
// starts with a little-endian company identifier.
func FromBLE(a ble.Advertisement) Advertisement {
	adv := Advertisement{
		Address:          strings.ToLower(a.Addr().String()),
		RSSI:             a.RSSI(),
		ManufacturerData: map[uint16][]byte{},
		Connectable:      a.Connectable(),
		SeenAt:           time.Now(),
	}

	if md := a.ManufacturerData(); len(md) >= 2 {
		id := binary.LittleEndian.Uint16(md[:2])
		adv.ManufacturerData[id] = append([]byte(nil), md[2:]...)
	}

	for _, u := range a.Services() {
		adv.ServiceUUIDs = append(adv.ServiceUUIDs, u.String())
	}

	return adv
}
