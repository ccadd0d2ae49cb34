package hub

import (
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddr = "aa:bb:cc:dd:ee:ff"

type collector struct {
	mu   sync.Mutex
	advs []Advertisement
}

func (c *collector) add(adv Advertisement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advs = append(c.advs, adv)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.advs)
}

func newTestScanner() *Scanner {
	logger, _ := logtest.NewNullLogger()
	return NewScanner(nil, ScannerOptions{}, logger)
}

func TestFromBLE(t *testing.T) {
	adv := FromBLE(fakeAdvertisement{
		addr:        "AA:BB:CC:DD:EE:FF",
		rssi:        -61,
		md:          []byte{0x01, 0xEB, 0x0A, 0x0B},
		services:    []ble.UUID{ble.UUID16(0xfff0)},
		connectable: true,
	})

	assert.Equal(t, testAddr, adv.Address)
	assert.Equal(t, -61, adv.RSSI)
	assert.True(t, adv.Connectable)
	assert.Equal(t, map[uint16][]byte{0xEB01: {0x0A, 0x0B}}, adv.ManufacturerData)
	assert.Equal(t, []string{"fff0"}, adv.ServiceUUIDs)
	assert.Equal(t, []uint16{0xEB01}, adv.ManufacturerIDs())
}

func TestFromBLE_ShortManufacturerData(t *testing.T) {
	adv := FromBLE(fakeAdvertisement{addr: testAddr, md: []byte{0x01}})
	assert.Empty(t, adv.ManufacturerData)
}

func TestScanner_CatchAllReceivesEverything(t *testing.T) {
	s := newTestScanner()
	var c collector
	unregister, err := s.RegisterCallback(c.add, ScanFilter{})
	require.NoError(t, err)
	defer unregister()

	s.Dispatch(Advertisement{Address: "11:22:33:44:55:66"})
	s.Dispatch(Advertisement{Address: "AA:BB:CC:DD:EE:FF"})

	assert.Equal(t, 2, c.count())
	assert.Equal(t, testAddr, c.advs[1].Address, "addresses are lower-cased before dispatch")
}

func TestScanner_Filters(t *testing.T) {
	s := newTestScanner()
	var byAddr, byMfg collector

	_, err := s.RegisterCallback(byAddr.add, ScanFilter{Address: "AA:BB:CC:DD:EE:FF"})
	require.NoError(t, err)
	_, err = s.RegisterCallback(byMfg.add, ScanFilter{ManufacturerID: 0xEB01})
	require.NoError(t, err)

	s.Dispatch(Advertisement{Address: testAddr})
	s.Dispatch(Advertisement{Address: "11:22:33:44:55:66", ManufacturerData: map[uint16][]byte{0xEB01: {1}}})

	assert.Equal(t, 1, byAddr.count())
	assert.Equal(t, 1, byMfg.count())
}

func TestScanner_UnregisterIsIdempotent(t *testing.T) {
	s := newTestScanner()
	var c collector
	unregister, err := s.RegisterCallback(c.add, ScanFilter{})
	require.NoError(t, err)

	unregister()
	unregister()
	s.Dispatch(Advertisement{Address: testAddr})

	assert.Zero(t, c.count())
}

func TestScanner_RejectsNilCallback(t *testing.T) {
	_, err := newTestScanner().RegisterCallback(nil, ScanFilter{})
	assert.Error(t, err)
}

func TestScanner_PanickingCallbackDoesNotStopDispatch(t *testing.T) {
	s := newTestScanner()
	var c collector
	_, err := s.RegisterCallback(func(Advertisement) { panic("boom") }, ScanFilter{})
	require.NoError(t, err)
	_, err = s.RegisterCallback(c.add, ScanFilter{})
	require.NoError(t, err)

	assert.NotPanics(t, func() { s.Dispatch(Advertisement{Address: testAddr}) })
	assert.Equal(t, 1, c.count())
}

func TestScanner_Resolve(t *testing.T) {
	s := newTestScanner()

	_, ok := s.Resolve(testAddr)
	assert.False(t, ok, "unknown device")

	s.Dispatch(Advertisement{Address: testAddr, Connectable: false})
	_, ok = s.Resolve(testAddr)
	assert.False(t, ok, "non connectable device")

	s.Dispatch(Advertisement{Address: testAddr, Connectable: true})
	addr, ok := s.Resolve("AA:BB:CC:DD:EE:FF")
	require.True(t, ok)
	assert.Equal(t, testAddr, addr.String())

	s.Dispatch(Advertisement{Address: testAddr, Connectable: true, SeenAt: time.Now().Add(-time.Hour)})
	_, ok = s.Resolve(testAddr)
	assert.False(t, ok, "stale device")
}

func TestScanner_Devices(t *testing.T) {
	s := newTestScanner()
	s.Dispatch(Advertisement{Address: testAddr, RSSI: -70, Connectable: true})
	s.Dispatch(Advertisement{Address: "11:22:33:44:55:66", RSSI: -50})

	devs := s.Devices()
	require.Len(t, devs, 2)
	assert.Equal(t, "11:22:33:44:55:66", devs[0].Address)
	assert.Equal(t, testAddr, devs[1].Address)
	assert.True(t, devs[1].Connectable)
	assert.Equal(t, -70, devs[1].RSSI)
}

func TestScanner_DefaultOptions(t *testing.T) {
	assert.Equal(t, 3*time.Minute, newTestScanner().opts.StaleAfter)
}
