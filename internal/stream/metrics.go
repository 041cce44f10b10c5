package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	startTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supervsr_stream_start_total",
		Help: "Total number of transcoder start attempts",
	}, []string{"result"})

	exitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supervsr_stream_exit_total",
		Help: "Total number of transcoder process exits",
	}, []string{"reason"})

	extractTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supervsr_frame_extract_total",
		Help: "Total number of one-shot frame extractions",
	}, []string{"result"})

	sessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "supervsr_stream_sessions",
		Help: "Number of live transcoder sessions",
	})
)
