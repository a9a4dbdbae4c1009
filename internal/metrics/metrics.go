package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reservation counters
	ReservationsCreated   *prometheus.CounterVec
	ReservationsConfirmed *prometheus.CounterVec
	ReservationsFailed    *prometheus.CounterVec
	ReservationsCancelled *prometheus.CounterVec
	ReservationsExpired   *prometheus.CounterVec
	PaymentsSeatsLost     *prometheus.CounterVec

	// Availability
	LockConflicts  *prometheus.CounterVec
	UnitsReclaimed prometheus.Counter

	// Sequence
	SequenceFallbacks *prometheus.CounterVec
	SequenceRetries   prometheus.Counter

	// Sweeper
	SweepDuration prometheus.Histogram
	SweepErrors   prometheus.Counter

	// Notifications
	NotificationFailures *prometheus.CounterVec

	// Requests
	RequestDuration *prometheus.HistogramVec

	initOnce sync.Once
)

// Init registers every collector with the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		register(prometheus.DefaultRegisterer)
	})
}

func register(reg prometheus.Registerer) {
	ReservationsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_created_total",
		Help: "Reservations created, by category.",
	}, []string{"category"})
	ReservationsConfirmed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_confirmed_total",
		Help: "Reservations confirmed after payment, by category.",
	}, []string{"category"})
	ReservationsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_payment_failed_total",
		Help: "Reservations whose payment failed, by category.",
	}, []string{"category"})
	ReservationsCancelled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_cancelled_total",
		Help: "Reservations cancelled by holder or admin, by category.",
	}, []string{"category"})
	ReservationsExpired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_expired_total",
		Help: "Pending reservations cancelled by the expiry sweeper, by category.",
	}, []string{"category"})
	PaymentsSeatsLost = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_payment_seats_lost_total",
		Help: "Payments captured after the reservation's units were lost.",
	}, []string{"category"})
	LockConflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "availability_lock_conflicts_total",
		Help: "Lock attempts rejected because a unit was unavailable.",
	}, []string{"category"})
	UnitsReclaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "availability_units_reclaimed_total",
		Help: "Expired blocked units returned to the pool.",
	})
	SequenceFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sequence_fallback_total",
		Help: "Reservation ids issued from the timestamp fallback.",
	}, []string{"category"})
	SequenceRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sequence_retries_total",
		Help: "Counter transactions retried after contention.",
	})
	SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sweeper_duration_seconds",
		Help:    "Duration of one expiry sweep.",
		Buckets: prometheus.DefBuckets,
	})
	SweepErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sweeper_errors_total",
		Help: "Partitions or reservations the sweeper failed to process.",
	})
	NotificationFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_failures_total",
		Help: "Terminal notifications that could not be delivered.",
	}, []string{"driver"})
	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	reg.MustRegister(
		ReservationsCreated,
		ReservationsConfirmed,
		ReservationsFailed,
		ReservationsCancelled,
		ReservationsExpired,
		PaymentsSeatsLost,
		LockConflicts,
		UnitsReclaimed,
		SequenceFallbacks,
		SequenceRetries,
		SweepDuration,
		SweepErrors,
		NotificationFailures,
		RequestDuration,
	)
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCreated counts a new reservation
func RecordCreated(category string) {
	if ReservationsCreated != nil {
		ReservationsCreated.WithLabelValues(category).Inc()
	}
}

// RecordConfirmed counts a confirmed reservation
func RecordConfirmed(category string) {
	if ReservationsConfirmed != nil {
		ReservationsConfirmed.WithLabelValues(category).Inc()
	}
}

// RecordPaymentFailed counts a failed payment
func RecordPaymentFailed(category string) {
	if ReservationsFailed != nil {
		ReservationsFailed.WithLabelValues(category).Inc()
	}
}

// RecordCancelled counts a cancellation
func RecordCancelled(category string) {
	if ReservationsCancelled != nil {
		ReservationsCancelled.WithLabelValues(category).Inc()
	}
}

// RecordExpired counts a reservation cancelled for non-payment
func RecordExpired(category string) {
	if ReservationsExpired != nil {
		ReservationsExpired.WithLabelValues(category).Inc()
	}
}

// RecordSeatsLost counts a payment that needs refund review
func RecordSeatsLost(category string) {
	if PaymentsSeatsLost != nil {
		PaymentsSeatsLost.WithLabelValues(category).Inc()
	}
}

// RecordLockConflict counts a rejected lock
func RecordLockConflict(category string) {
	if LockConflicts != nil {
		LockConflicts.WithLabelValues(category).Inc()
	}
}

// RecordReclaimed counts units returned by the sweeper
func RecordReclaimed(n int) {
	if UnitsReclaimed != nil && n > 0 {
		UnitsReclaimed.Add(float64(n))
	}
}

// RecordSequenceFallback counts an id issued without the counter
func RecordSequenceFallback(category string) {
	if SequenceFallbacks != nil {
		SequenceFallbacks.WithLabelValues(category).Inc()
	}
}

// RecordSequenceRetry counts a retried counter transaction
func RecordSequenceRetry() {
	if SequenceRetries != nil {
		SequenceRetries.Inc()
	}
}

// RecordSweep observes one sweep
func RecordSweep(d time.Duration, errors int) {
	if SweepDuration != nil {
		SweepDuration.Observe(d.Seconds())
	}
	if SweepErrors != nil && errors > 0 {
		SweepErrors.Add(float64(errors))
	}
}

// RecordNotificationFailure counts an undelivered notification
func RecordNotificationFailure(driver string) {
	if NotificationFailures != nil {
		NotificationFailures.WithLabelValues(driver).Inc()
	}
}

// RecordRequest observes one HTTP request
func RecordRequest(method, route string, status int, d time.Duration) {
	if RequestDuration != nil {
		RequestDuration.WithLabelValues(method, route, statusClass(status)).Observe(d.Seconds())
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
