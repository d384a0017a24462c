package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxlane_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voxlane_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	RequestsDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxlane_requests_denied_total",
			Help: "Transcription requests denied at admission, by reason.",
		},
		[]string{"reason"},
	)

	AdmissionWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "voxlane_admission_wait_seconds",
			Help:    "Time a job spent waiting for an admission slot.",
			Buckets: []float64{0.1, 0.3, 1, 3, 10, 30, 60, 90},
		},
	)

	QueueRunningSlots = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "voxlane_queue_running_slots",
			Help: "Jobs currently holding an admission slot.",
		},
	)

	MinutesSettledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxlane_minutes_settled_total",
			Help: "Billable minutes settled, by funding source.",
		},
		[]string{"source"},
	)

	OverageMinutesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "voxlane_overage_minutes_billed_total",
			Help: "High-accuracy minutes billed as overage.",
		},
	)

	AbuseSignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxlane_abuse_signals_total",
			Help: "Abuse signals recorded, by severity.",
		},
		[]string{"severity"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		RequestsDeniedTotal,
		AdmissionWaitSeconds,
		QueueRunningSlots,
		MinutesSettledTotal,
		OverageMinutesTotal,
		AbuseSignalsTotal,
	)
}
