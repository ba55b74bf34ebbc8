package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parkslot",
			Name:      "http_requests_total",
			Help:      "Count of API requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	reservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parkslot",
			Name:      "reservations_total",
			Help:      "Count of reservation attempts by status.",
		},
		[]string{"status"},
	)

	facilities = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parkslot",
			Name:      "facilities_provisioned_total",
			Help:      "Count of facility provisioning attempts by status.",
		},
		[]string{"status"},
	)

	slotsProvisioned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "parkslot",
			Name:      "slots_provisioned_total",
			Help:      "Count of slots created by provisioning.",
		},
	)

	rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "parkslot",
			Name:      "rate_limited_total",
			Help:      "Count of requests rejected by the rate limiter.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, reservations, facilities, slotsProvisioned, rateLimited)
	})
}

func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncReservation(status string) {
	reservations.WithLabelValues(status).Inc()
}

func IncFacility(status string) {
	facilities.WithLabelValues(status).Inc()
}

func AddSlotsProvisioned(n int) {
	slotsProvisioned.Add(float64(n))
}

func IncRateLimited() {
	rateLimited.Inc()
}
