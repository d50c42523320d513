package server

import (
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"zkvote/vote-prover/logging"
)

var (
	ProofRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vote_prover_proof_requests_total",
			Help: "Total number of vote proof requests by tree depth",
		},
		[]string{"tree_depth"},
	)

	ProofGenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vote_prover_proof_generation_duration_seconds",
			Help:    "Duration of vote proof generation in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 15),
		},
		[]string{"tree_depth"},
	)

	ProofGenerationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vote_prover_proof_generation_errors_total",
			Help: "Total number of vote proof errors by tree depth",
		},
		[]string{"tree_depth", "error_type"},
	)

	ProofCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vote_prover_proof_cache_hits_total",
			Help: "Synchronous proof requests answered from the proof cache",
		},
	)

	NetworkProofRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vote_prover_network_proof_requests_total",
			Help: "Proof requests forwarded to the network prover",
		},
		[]string{"status"},
	)

	QueueWaitTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vote_prover_queue_wait_time_seconds",
			Help:    "Time spent waiting in queue before processing",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vote_prover_jobs_processed_total",
			Help: "Total number of queued jobs processed",
		},
		[]string{"status"},
	)

	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vote_prover_active_jobs",
			Help: "Number of vote proofs currently being generated",
		},
	)

	BallotsCast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vote_prover_ballots_total",
			Help: "Ballots submitted to the ballot box by outcome",
		},
		[]string{"result"},
	)

	SystemMemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vote_prover_system_memory_bytes",
			Help: "System memory statistics",
		},
		[]string{"type"},
	)
)

type MetricTimer struct {
	start          time.Time
	treeDepth      string
	startHeapAlloc uint64
}

func recordMemStats() runtime.MemStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	SystemMemoryUsage.WithLabelValues("heap_alloc").Set(float64(memStats.HeapAlloc))
	SystemMemoryUsage.WithLabelValues("heap_inuse").Set(float64(memStats.HeapInuse))
	SystemMemoryUsage.WithLabelValues("sys").Set(float64(memStats.Sys))
	return memStats
}

func StartProofTimer(treeDepth uint32) *MetricTimer {
	label := strconv.FormatUint(uint64(treeDepth), 10)
	ProofRequestsTotal.WithLabelValues(label).Inc()
	ActiveJobs.Inc()

	memStats := recordMemStats()
	return &MetricTimer{
		start:          time.Now(),
		treeDepth:      label,
		startHeapAlloc: memStats.HeapAlloc,
	}
}

func (t *MetricTimer) ObserveDuration() {
	duration := time.Since(t.start).Seconds()
	ProofGenerationDuration.WithLabelValues(t.treeDepth).Observe(duration)
	ActiveJobs.Dec()

	memStats := recordMemStats()
	memDelta := int64(memStats.HeapAlloc) - int64(t.startHeapAlloc)
	if memDelta < 0 {
		memDelta = 0
	}

	logging.Logger().Info().
		Str("tree_depth", t.treeDepth).
		Float64("duration_sec", duration).
		Int64("delta_mb", memDelta/1024/1024).
		Msg("Proof generation completed")
}

func (t *MetricTimer) ObserveError(errorType string) {
	ProofGenerationErrors.WithLabelValues(t.treeDepth, errorType).Inc()
	ActiveJobs.Dec()
	recordMemStats()
}

func RecordJobComplete(success bool) {
	if success {
		JobsProcessed.WithLabelValues("completed").Inc()
	} else {
		JobsProcessed.WithLabelValues("failed").Inc()
	}
}
