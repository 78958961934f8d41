package observability

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/danmuck/capipc/internal/command"
	"github.com/danmuck/capipc/internal/protocol"
	"github.com/danmuck/capipc/internal/result"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "capipc",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "capipc",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "capipc",
			Subsystem: "ipc",
			Name:      "dispatch_total",
			Help:      "Dispatched commands by service, format, command and result.",
		},
		[]string{"service", "format", "command", "result"},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "capipc",
			Subsystem: "ipc",
			Name:      "dispatch_duration_seconds",
			Help:      "Handler run time in seconds.",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1},
		},
		[]string{"service", "format"},
	)
	rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "capipc",
			Subsystem: "ipc",
			Name:      "rejections_total",
			Help:      "Requests rejected before reaching a handler.",
		},
		[]string{"service", "reason"},
	)
	sessionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "capipc",
			Subsystem: "ipc",
			Name:      "sessions_active",
			Help:      "Sessions currently being served.",
		},
		[]string{"service"},
	)
	registryOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "capipc",
			Subsystem: "registry",
			Name:      "operations_total",
			Help:      "Registry operations by kind and result.",
		},
		[]string{"op", "result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			dispatches, dispatchDuration, rejections, sessionsActive,
			registryOps,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// Recorder feeds dispatcher and registry callbacks into the collectors.
type Recorder struct{}

func NewRecorder() *Recorder {
	RegisterMetrics()
	return &Recorder{}
}

func (*Recorder) Dispatched(service string, format command.Format, cmd uint32, name string, code result.Code, elapsed time.Duration) {
	label := name
	if label == "" {
		label = strconv.FormatUint(uint64(cmd), 10)
	}
	dispatches.WithLabelValues(service, format.String(), label, code.String()).Inc()
	dispatchDuration.WithLabelValues(service, format.String()).Observe(elapsed.Seconds())
}

func (*Recorder) Rejected(service string, err error) {
	rejections.WithLabelValues(service, rejectReason(err)).Inc()
}

func (*Recorder) SessionOpened(service string) {
	sessionsActive.WithLabelValues(service).Inc()
}

func (*Recorder) SessionClosed(service string) {
	sessionsActive.WithLabelValues(service).Dec()
}

func (*Recorder) RegistryOp(op, name string, code result.Code) {
	registryOps.WithLabelValues(op, code.String()).Inc()
}

var reasons = []struct {
	err   error
	label string
}{
	{protocol.ErrInvalidMagic, "invalid_magic"},
	{protocol.ErrUnsupportedVersion, "unsupported_version"},
	{protocol.ErrTruncated, "truncated"},
	{protocol.ErrUnknownMessageType, "unknown_message_type"},
	{protocol.ErrInvalidLength, "invalid_length"},
}

func rejectReason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.label
		}
	}
	return "other"
}
