package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bookingsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourbook_bookings_created_total",
			Help: "Booking creation attempts by result",
		},
		[]string{"result"},
	)

	capacityRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourbook_capacity_rejections_total",
			Help: "Reservations rejected by the capacity ledger",
		},
		[]string{"reason"},
	)

	holdsReleased = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourbook_holds_released_total",
			Help: "Capacity holds returned to the ledger",
		},
		[]string{"reason"},
	)

	couponApplications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourbook_coupon_applications_total",
			Help: "Coupon validations and redemptions by result",
		},
		[]string{"result"},
	)

	paymentCallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourbook_payment_callbacks_total",
			Help: "Provider callbacks by reconciliation outcome",
		},
		[]string{"outcome"},
	)

	gatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tourbook_payment_gateway_duration_seconds",
			Help:    "Latency of payment provider calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	holdsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tourbook_sweep_expired_holds_total",
			Help: "Pending bookings cancelled by the hold expiry sweep",
		},
	)
)

func TrackBookingCreated(result string) {
	bookingsCreated.WithLabelValues(result).Inc()
}

func TrackCapacityRejection(reason string) {
	capacityRejections.WithLabelValues(reason).Inc()
}

func TrackHoldReleased(reason string) {
	holdsReleased.WithLabelValues(reason).Inc()
}

func TrackCoupon(result string) {
	couponApplications.WithLabelValues(result).Inc()
}

func TrackPaymentCallback(outcome string) {
	paymentCallbacks.WithLabelValues(outcome).Inc()
}

// ObserveGateway records the duration of a provider call started at start
func ObserveGateway(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	gatewayDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}

func TrackExpiredHolds(n int) {
	holdsExpired.Add(float64(n))
}
