package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Booking metrics
	BookingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduling_bookings_total",
			Help: "Booking attempts by consultant selection type and result",
		},
		[]string{"selection", "result"},
	)

	BookingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduling_booking_duration_seconds",
			Help:    "Time from booking request to committed appointment",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Attendance metrics
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduling_transitions_total",
			Help: "Applied appointment status transitions by operation and target status",
		},
		[]string{"op", "to"},
	)

	// Reconciliation metrics
	SweepRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduling_sweep_rows_total",
			Help: "Rows handled by reconciliation jobs by job and result",
		},
		[]string{"job", "result"},
	)

	SweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduling_sweep_duration_seconds",
			Help:    "Reconciliation job run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	// Notification metrics
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduling_notifications_total",
			Help: "Notification deliveries by sink and result",
		},
		[]string{"sink", "result"},
	)

	NotificationQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduling_notification_queue_depth",
			Help: "Intents waiting in the dispatcher queue",
		},
	)
)

func init() {
	prometheus.MustRegister(
		BookingsTotal,
		BookingDuration,
		TransitionsTotal,
		SweepRowsTotal,
		SweepDuration,
		NotificationsTotal,
		NotificationQueueDepth,
	)
}

// Handler returns the Prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation and records it into a histogram
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time into a histogram
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}
