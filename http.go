package main

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/alepar/wp6003/hub"
)

func newMux(gatherer prometheus.Gatherer, services *hub.Services, scanner *hub.Scanner, logger log.FieldLogger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		gatherer,
		promhttp.HandlerOpts{
			// Opt into OpenMetrics to support exemplars.
			EnableOpenMetrics: true,
		},
	))
	mux.Handle("POST /services/{domain}/{name}", servicesHandler(services, logger))
	mux.HandleFunc("GET /devices", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, scanner.Devices(), logger)
	})
	return mux
}

func servicesHandler(services *hub.Services, logger log.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		domain, name := r.PathValue("domain"), r.PathValue("name")
		res, err := services.Call(r.Context(), domain, name)
		switch {
		case errors.Is(err, hub.ErrServiceNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()}, logger)
		case err != nil:
			logger.WithError(err).WithField("service", domain+"."+name).Error("service call failed")
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error(), "result": res}, logger)
		default:
			writeJSON(w, http.StatusOK, res, logger)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}, logger log.FieldLogger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Warn("couldn't write response")
	}
}
