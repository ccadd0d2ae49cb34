package wp6003

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/alepar/wp6003/airquality"
)

// Domain namespaces the events and named operations of this integration.
const Domain = "wp6003"

// EventUpdate is the bus topic carrying decoded readings.
const EventUpdate = Domain + "_update"

// ManufacturerID keys the sensor payload inside advertisement manufacturer data.
const ManufacturerID uint16 = 0xEB01

// PayloadLen is the minimum length of a sensor payload.
const PayloadLen = 18

const co2Offset = 150

// ErrShortPayload is returned for payloads shorter than PayloadLen.
var ErrShortPayload = errors.New("wp6003: payload too short")

// Decode parses a sensor payload. All fields are big endian:
// - Bytes 6-7: temperature in 0.1°C (signed)
// - Bytes 10-11: TVOC in µg/m3
// - Bytes 12-13: HCHO in µg/m3
// - Bytes 16-17: CO2 in ppm, offset by 150
// Decoded values are not range checked.
func Decode(payload []byte) (airquality.Reading, error) {
	if len(payload) < PayloadLen {
		return airquality.Reading{}, errors.Wrapf(ErrShortPayload, "got %d bytes, want %d", len(payload), PayloadLen)
	}

	temp := int16(binary.BigEndian.Uint16(payload[6:8]))
	tvoc := binary.BigEndian.Uint16(payload[10:12])
	hcho := binary.BigEndian.Uint16(payload[12:14])
	co2 := binary.BigEndian.Uint16(payload[16:18])

	return airquality.Reading{
		Temperature: float64(temp) / 10.0,
		TVOC:        float64(tvoc) / 1000.0,
		HCHO:        float64(hcho) / 1000.0,
		CO2:         int(co2) - co2Offset,
	}, nil
}
