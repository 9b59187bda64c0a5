// Registers:
//
//	#booksync_session_status
//	#booksync_resyncs_total
//	#booksync_fatal_errors_total
//	#booksync_messages_total
//	#booksync_snapshot_requests_total
//	#booksync_backoff_seconds
//	#go_* and process_* system metrics
//
// Exposes them on /metrics using Prometheus HTTP handler
package metrics

import (
	"errors"
	"net/http"
	"sync"

	"booksync/logger"
	"booksync/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once             sync.Once
	sessionStatus    *prometheus.GaugeVec
	resyncs          *prometheus.CounterVec
	fatalErrors      *prometheus.CounterVec
	messages         *prometheus.CounterVec
	snapshotRequests *prometheus.CounterVec
	backoffSeconds   *prometheus.GaugeVec
)

func register(reg prometheus.Registerer) {
	sessionStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "booksync_session_status",
			Help: "Book session status: 0 disconnected, 1 connecting, 2 connected",
		},
		[]string{"venue", "symbol"},
	)
	resyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booksync_resyncs_total",
			Help: "Forced disconnect and resynchronization cycles",
		},
		[]string{"venue", "symbol", "reason"},
	)
	fatalErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booksync_fatal_errors_total",
			Help: "Unrecoverable session failures",
		},
		[]string{"venue", "symbol", "kind"},
	)
	messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booksync_messages_total",
			Help: "Raw venue messages received",
		},
		[]string{"venue", "symbol"},
	)
	snapshotRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booksync_snapshot_requests_total",
			Help: "Out-of-band snapshot fetches by result",
		},
		[]string{"venue", "symbol", "result"},
	)
	backoffSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "booksync_backoff_seconds",
			Help: "Current reconnect backoff wait",
		},
		[]string{"venue", "symbol"},
	)

	for _, c := range []prometheus.Collector{sessionStatus, resyncs, fatalErrors, messages, snapshotRequests, backoffSeconds} {
		_ = reg.Register(c)
	}
}

// Init registers the collectors once and, when addr is not empty, serves
// them on addr/metrics.
func Init(addr string) {
	once.Do(func() {
		register(prometheus.DefaultRegisterer)
		_ = prometheus.Register(collectors.NewGoCollector())
		_ = prometheus.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		if addr == "" {
			return
		}
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.GetLogger().WithComponent("metrics").WithError(err).Error("metrics server failed")
			}
		}()
	})
}

// SetStatus publishes the lifecycle state of a session.
func SetStatus(venue, symbol string, status models.Status) {
	if sessionStatus != nil {
		sessionStatus.WithLabelValues(venue, symbol).Set(float64(status))
	}
}

// IncResync counts one forced resynchronization.
func IncResync(venue, symbol, reason string) {
	if resyncs != nil {
		resyncs.WithLabelValues(venue, symbol, reason).Inc()
	}
	logger.GetLogger().LogMetric("session", "resync", 1, "counter", logger.Fields{"venue": venue, "reason": reason})
}

// IncFatal counts one unrecoverable failure.
func IncFatal(venue, symbol, kind string) {
	if fatalErrors != nil {
		fatalErrors.WithLabelValues(venue, symbol, kind).Inc()
	}
	logger.GetLogger().LogMetric("session", "fatal_error", 1, "counter", logger.Fields{"venue": venue, "kind": kind})
}

// IncMessages counts raw messages received for a book.
func IncMessages(venue, symbol string) {
	if messages != nil {
		messages.WithLabelValues(venue, symbol).Inc()
	}
}

// IncSnapshotRequest counts an out-of-band snapshot fetch by result.
func IncSnapshotRequest(venue, symbol, result string) {
	if snapshotRequests != nil {
		snapshotRequests.WithLabelValues(venue, symbol, result).Inc()
	}
}

// SetBackoff publishes the reconnect wait currently scheduled.
func SetBackoff(venue, symbol string, seconds float64) {
	if backoffSeconds != nil {
		backoffSeconds.WithLabelValues(venue, symbol).Set(seconds)
	}
}
