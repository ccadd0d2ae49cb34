package wp6003

import "github.com/prometheus/client_golang/prometheus"

const (
	sourceAdvertisement = "advertisement"
	sourceGATT          = "gatt"
)

var (
	readingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wp6003_readings_total",
			Help: "Payloads decoded successfully, by source",
		},
		[]string{"source"},
	)
	decodeFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wp6003_decode_failures_total",
			Help: "Payloads that could not be decoded, by source",
		},
		[]string{"source"},
	)
	sessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wp6003_gatt_session_state",
			Help: "Current GATT session state (0 searching, 1 connecting, 2 discovering, 3 subscribed, 4 failed, 5 stopped)",
		},
		[]string{"entry_id"},
	)
)

// Collectors returns the metrics of this package for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{readingsTotal, decodeFailuresTotal, sessionState}
}
