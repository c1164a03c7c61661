package worker

import "github.com/prometheus/client_golang/prometheus"

var (
	passTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dosed_worker_passes_total",
			Help: "Background loop passes by loop name and result.",
		},
		[]string{"loop", "result"},
	)

	passDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dosed_worker_pass_duration_seconds",
			Help:    "Duration of background loop passes.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"loop"},
	)

	online = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dosed_remote_online",
			Help: "1 when the last connectivity check reached the remote handler.",
		},
	)
)

func init() {
	prometheus.MustRegister(passTotal, passDuration, online)
}
