package hub

import "github.com/go-ble/ble"

type fakeAdvertisement struct {
	addr        string
	rssi        int
	md          []byte
	services    []ble.UUID
	connectable bool
}

func (a fakeAdvertisement) LocalName() string              { return "" }
func (a fakeAdvertisement) ManufacturerData() []byte       { return a.md }
func (a fakeAdvertisement) ServiceData() []ble.ServiceData { return nil }
func (a fakeAdvertisement) Services() []ble.UUID           { return a.services }
func (a fakeAdvertisement) OverflowService() []ble.UUID    { return nil }
func (a fakeAdvertisement) TxPowerLevel() int              { return 0 }
func (a fakeAdvertisement) Connectable() bool              { return a.connectable }
func (a fakeAdvertisement) SolicitedService() []ble.UUID   { return nil }
func (a fakeAdvertisement) RSSI() int                      { return a.rssi }
func (a fakeAdvertisement) Addr() ble.Addr                 { return ble.NewAddr(a.addr) }
