package hub

import (
	"context"
	"time"

	"github.com/go-ble/ble"
	"github.com/pkg/errors"
)

// Dialer opens GATT connections on the shared BLE device.
type Dialer struct {
	dev     ble.Device
	timeout time.Duration
}

// NewDialer returns a dialer bounding every attempt by timeout.
func NewDialer(dev ble.Device, timeout time.Duration) *Dialer {
	return &Dialer{dev: dev, timeout: timeout}
}

// Dial connects to addr.
func (d *Dialer) Dial(ctx context.Context, addr ble.Addr) (ble.Client, error) {
	if d.dev == nil {
		return nil, errors.New("no BLE device to dial with")
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cln, err := d.dev.Dial(ctx, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't connect to %s", addr)
	}
	return cln, nil
}
