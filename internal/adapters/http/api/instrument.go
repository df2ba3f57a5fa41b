package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/standings/pkg/logger"
	"github.com/okian/standings/pkg/metrics"
)

// TriggerIDHeader carries the id of an accepted pass trigger.
const TriggerIDHeader = "X-Trigger-ID"

const reconcileEndpoint = "reconcile"

// Outcome classifies a response for metrics.
func Outcome(endpoint string, status int) string {
	if endpoint == reconcileEndpoint {
		switch status {
		case http.StatusAccepted:
			return "accepted"
		case http.StatusTooManyRequests:
			return "pending"
		case http.StatusServiceUnavailable:
			return "unavailable"
		}
	}
	switch {
	case status >= http.StatusInternalServerError:
		return "server_error"
	case status == http.StatusNotFound:
		return "not_found"
	case status >= http.StatusBadRequest:
		return "bad_request"
	default:
		return "ok"
	}
}

// Instrument records request counts, latency and error series for endpoint.
// Trigger requests are also counted by outcome and logged with their id.
func Instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	log := logger.Get().Named("api")
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		ms := float64(time.Since(start).Milliseconds())
		code := strconv.Itoa(rec.status)
		outcome := Outcome(endpoint, rec.status)
		metrics.RecordHTTPRequest(endpoint, r.Method, code)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, code, ms)

		if endpoint == reconcileEndpoint && r.Method == http.MethodPost {
			metrics.RecordTriggerRequest(outcome)
			log.Debug(r.Context(), "trigger request",
				logger.String("outcome", outcome),
				logger.String("trigger_id", rec.Header().Get(TriggerIDHeader)),
			)
		}

		// A refused trigger is flow control, not an error.
		if rec.status < http.StatusBadRequest || outcome == "pending" {
			return
		}
		class := "client"
		if rec.status >= http.StatusInternalServerError {
			class = "server"
		}
		metrics.RecordErrorByEndpoint(endpoint, r.Method, outcome)
		metrics.RecordErrorByType(outcome, class)
		metrics.RecordErrorLatency("http", outcome, ms)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}
