package prometheus

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilnhq/kiln/internal/metrics"
)

const namespace = "kiln"

// Recorder is the Prometheus implementation of metrics.Recorder.
type Recorder struct {
	runtimeDownloadAttempts *prometheus.CounterVec
	backendLaunches         *prometheus.CounterVec
	transportReconnects     *prometheus.CounterVec
	transportPending        prometheus.Gauge
	transportDroppedFrames  prometheus.Counter
	installQueueLength      prometheus.Gauge
	installDuration         *prometheus.HistogramVec
}

// NewRecorder returns a new Prometheus recorder registered on reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	r := &Recorder{
		runtimeDownloadAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "download_attempts_total",
			Help:      "Number of Java runtime archive download attempts.",
		}, []string{"result"}),
		backendLaunches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "launches_total",
			Help:      "Number of backend launch outcomes.",
		}, []string{"result"}),
		transportReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connects_total",
			Help:      "Number of backend socket connection attempts.",
		}, []string{"result"}),
		transportPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "pending_requests",
			Help:      "Number of requests awaiting a correlated reply.",
		}),
		transportDroppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "dropped_frames_total",
			Help:      "Number of malformed inbound frames dropped.",
		}),
		installQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "install",
			Name:      "queue_length",
			Help:      "Number of install requests waiting in the queue.",
		}),
		installDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "install",
			Name:      "duration_seconds",
			Help:      "Duration of finished installs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
	}

	collectors := []prometheus.Collector{
		r.runtimeDownloadAttempts,
		r.backendLaunches,
		r.transportReconnects,
		r.transportPending,
		r.transportDroppedFrames,
		r.installQueueLength,
		r.installDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("could not register collector: %w", err)
		}
	}

	return r, nil
}

func (r *Recorder) IncRuntimeDownloadAttempt(_ context.Context, result string) {
	r.runtimeDownloadAttempts.WithLabelValues(result).Inc()
}

func (r *Recorder) IncBackendLaunch(_ context.Context, result string) {
	r.backendLaunches.WithLabelValues(result).Inc()
}

func (r *Recorder) IncTransportReconnect(_ context.Context, result string) {
	r.transportReconnects.WithLabelValues(result).Inc()
}

func (r *Recorder) SetTransportPendingRequests(_ context.Context, n int) {
	r.transportPending.Set(float64(n))
}

func (r *Recorder) IncTransportDroppedFrame(_ context.Context) {
	r.transportDroppedFrames.Inc()
}

func (r *Recorder) SetInstallQueueLength(_ context.Context, n int) {
	r.installQueueLength.Set(float64(n))
}

func (r *Recorder) ObserveInstall(_ context.Context, result string, duration time.Duration) {
	r.installDuration.WithLabelValues(result).Observe(duration.Seconds())
}

var _ metrics.Recorder = &Recorder{}
