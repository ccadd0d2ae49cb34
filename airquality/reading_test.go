package airquality

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadingFields(t *testing.T) {
	r := Reading{Temperature: 25.0, TVOC: 0.3, HCHO: 0.1, CO2: 50}

	assert.Equal(t, map[string]interface{}{
		"temperature": 25.0,
		"tvoc":        0.3,
		"hcho":        0.1,
		"co2":         50,
	}, r.Fields())
}

func TestValue(t *testing.T) {
	data := Reading{Temperature: -1.5, CO2: -20}.Fields()
	data["label"] = "kitchen"

	v, ok := Value(data, KeyTemperature)
	assert.True(t, ok)
	assert.Equal(t, -1.5, v)

	v, ok = Value(data, KeyCO2)
	assert.True(t, ok)
	assert.Equal(t, -20.0, v)

	_, ok = Value(data, "label")
	assert.False(t, ok)

	_, ok = Value(data, "missing")
	assert.False(t, ok)
}

func TestMetricsCoverReadingKeys(t *testing.T) {
	fields := Reading{}.Fields()
	assert.Len(t, Metrics, len(fields))
	for _, m := range Metrics {
		assert.Contains(t, fields, m.Key)
	}
}
