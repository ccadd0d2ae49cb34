package hub

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// Transport selects how an entry receives data from its device.
type Transport string

const (
	// TransportAdvertisement decodes passive advertisements. This is the default.
	TransportAdvertisement Transport = "advertisement"
	// TransportGATT keeps a connection open and subscribes to notifications.
	TransportGATT Transport = "gatt"
)

// ErrInvalidMAC is returned for addresses that are not six colon separated hex octets.
var ErrInvalidMAC = errors.New("invalid MAC address")

var macAddressRegex = regexp.MustCompile(`^([0-9a-f]{2}:){5}[0-9a-f]{2}$`)

// ConfigEntry is the stored configuration of one plugin instance.
type ConfigEntry struct {
	ID        string
	Title     string
	MAC       string
	Transport Transport
}

// NormalizeMAC lower-cases and validates a device address.
func NormalizeMAC(mac string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(mac))
	if !macAddressRegex.MatchString(normalized) {
		return "", errors.Wrapf(ErrInvalidMAC, "%q", mac)
	}
	return normalized, nil
}

// ParseTransport maps a configured transport name, defaulting to advertisements.
func ParseTransport(s string) (Transport, error) {
	switch Transport(strings.ToLower(strings.TrimSpace(s))) {
	case "", TransportAdvertisement:
		return TransportAdvertisement, nil
	case TransportGATT:
		return TransportGATT, nil
	default:
		return "", errors.Errorf("unknown transport %q (allowed: advertisement, gatt)", s)
	}
}
