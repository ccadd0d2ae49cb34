package airquality

// Keys of the flat mapping carried by update events.
const (
	KeyTemperature = "temperature"
	KeyTVOC        = "tvoc"
	KeyHCHO        = "hcho"
	KeyCO2         = "co2"
)

// Reading is one decoded sample. It only ever comes out of a payload that
// passed validation.
type Reading struct {
	// units: degrees Celsius
	Temperature float64

	// units: mg/m3
	TVOC float64

	// units: mg/m3
	HCHO float64

	// units: ppm
	CO2 int
}

// Fields returns the reading as the flat mapping published on the event bus.
func (r Reading) Fields() map[string]interface{} {
	return map[string]interface{}{
		KeyTemperature: r.Temperature,
		KeyTVOC:        r.TVOC,
		KeyHCHO:        r.HCHO,
		KeyCO2:         r.CO2,
	}
}
