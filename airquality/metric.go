package airquality

// Metric describes one value exposed per configured sensor.
type Metric struct {
	Key  string
	Name string
	Unit string
}

// Metrics lists every value a Reading carries, in display order.
var Metrics = []Metric{
	{Key: KeyTemperature, Name: "Temperature", Unit: "°C"},
	{Key: KeyTVOC, Name: "TVOC", Unit: "mg/m³"},
	{Key: KeyHCHO, Name: "HCHO", Unit: "mg/m³"},
	{Key: KeyCO2, Name: "CO₂", Unit: "ppm"},
}

// Value extracts a numeric value from an event mapping. Non-numeric and
// missing keys report false.
func Value(data map[string]interface{}, key string) (float64, bool) {
	switch v := data[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
