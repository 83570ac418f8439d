// Package metrics exposes Prometheus instrumentation for the
// coordination server: connection lifecycle, room lifecycle, frame
// throughput, and error counts by subsystem.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/noteflow/mp-server/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessions_accepted_total",
		Help: "Total TCP connections accepted.",
	})
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sessions_active",
		Help: "Current number of live sessions.",
	})
	HandshakeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "handshake_failures_total",
		Help: "Total version handshakes that failed.",
	})
	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_failures_total",
		Help: "Total authentication attempts rejected.",
	})
	UsersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "users_active",
		Help: "Current number of authenticated users (attached or dangling).",
	})
	UsersDangling = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "users_dangling",
		Help: "Current number of users awaiting reconnection.",
	})
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rooms_active",
		Help: "Current number of live rooms.",
	})
	HostMigrations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "host_migrations_total",
		Help: "Total host-migration events (disconnect or cycle rotation).",
	})
	RoundsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rounds_started_total",
		Help: "Total rounds that reached Playing.",
	})
	RoundsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rounds_completed_total",
		Help: "Total rounds that returned to SelectChart.",
	})
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frames_received_total",
		Help: "Decoded inbound command frames by kind.",
	}, []string{"kind"})
	FramesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frames_sent_total",
		Help: "Encoded outbound command frames by kind.",
	}, []string{"kind"})
	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decode_errors_total",
		Help: "Total frames rejected at decode time.",
	})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	IdentityRequestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "identity_request_failures_total",
		Help: "Failed requests to the external identity/chart/record collaborator, by endpoint.",
	}, []string{"endpoint"})
	IdentityBreakerOpen = promauto.NewCounter(prometheus.CounterOpts{
		Name: "identity_breaker_open_total",
		Help: "Total times the identity collaborator's circuit breaker tripped open.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrTCPRead    = "tcp_read"
	ErrTCPWrite   = "tcp_write"
	ErrHandshake  = "handshake"
	ErrDecode     = "decode"
	ErrIdentity   = "identity"
	ErrContext    = "context_cancelled"
)

// StartHTTP serves Prometheus metrics and a readiness probe.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

var (
	localSessionsAccepted uint64
	localErrors           uint64
)

// Snapshot is a cheap copy of local counters, useful for a periodic log
// line without scraping Prometheus in-process.
type Snapshot struct {
	SessionsAccepted uint64
	Errors           uint64
}

func Snap() Snapshot {
	return Snapshot{
		SessionsAccepted: atomic.LoadUint64(&localSessionsAccepted),
		Errors:           atomic.LoadUint64(&localErrors),
	}
}

func IncSessionsAccepted() {
	SessionsAccepted.Inc()
	atomic.AddUint64(&localSessionsAccepted, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncFrameReceived(kind string) { FramesReceived.WithLabelValues(kind).Inc() }
func IncFrameSent(kind string)     { FramesSent.WithLabelValues(kind).Inc() }

// InitBuildInfo sets the build info gauge and pre-registers common error
// label series so the first error doesn't pay registration latency.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{ErrTCPRead, ErrTCPWrite, ErrHandshake, ErrDecode, ErrIdentity, ErrContext} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
