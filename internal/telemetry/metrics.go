package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "reflex"

const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of running game sessions.",
	})

	Taps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "taps_total",
		Help:      "Number of target hits accepted.",
	})

	Rounds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rounds_total",
		Help:      "Number of rounds by phase (started, ended).",
	}, []string{"phase"})

	FinalScores = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "final_score",
		Help:      "Score at the end of a round.",
		Buckets:   prometheus.LinearBuckets(0, 5, 12),
	})

	ScoreWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "score_writes_total",
		Help:      "Score store writes by result.",
	}, []string{"result"})

	ScoreReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "score_reads_total",
		Help:      "Score store top scores reads by result.",
	}, []string{"result"})
)
