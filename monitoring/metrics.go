package monitoring

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"gate-admission/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Monitor exports gate queue metrics to Prometheus. It implements the
// queue service's observer interface.
type Monitor struct {
	redis    *redis.Client
	gatherer prometheus.Gatherer

	queueLength     *prometheus.GaugeVec
	queueOperations *prometheus.CounterVec
	admissionWait   *prometheus.HistogramVec
	goroutineCount  prometheus.Gauge
	redisUp         prometheus.Gauge
}

// NewMonitor registers the collectors on reg. redisClient may be nil when the
// queue runs without Redis.
func NewMonitor(reg *prometheus.Registry, redisClient *redis.Client) *Monitor {
	factory := promauto.With(reg)
	return &Monitor{
		redis:    redisClient,
		gatherer: reg,
		queueLength: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gate_queue_length",
				Help: "Current number of queue entries per gate and status",
			},
			[]string{"event_id", "gate_id", "status"},
		),
		queueOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gate_queue_operations_total",
				Help: "Total gate queue operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		admissionWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gate_admission_wait_seconds",
				Help:    "Time from joining the queue to verification at the gate",
				Buckets: prometheus.ExponentialBuckets(15, 2, 10),
			},
			[]string{"event_id", "gate_id"},
		),
		goroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_goroutines_total",
				Help: "Current number of active goroutines",
			},
		),
		redisUp: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gate_queue_redis_up",
				Help: "Whether the last Redis ping succeeded",
			},
		),
	}
}

func (m *Monitor) ObserveOperation(operation, outcome string) {
	m.queueOperations.WithLabelValues(operation, outcome).Inc()
}

func (m *Monitor) ObserveTraffic(eventID, gateID string, traffic models.GateTraffic) {
	m.queueLength.WithLabelValues(eventID, gateID, string(models.GateEntryPending)).Set(float64(traffic.PendingCount))
	m.queueLength.WithLabelValues(eventID, gateID, string(models.GateEntryCurrent)).Set(float64(traffic.CurrentCount))
	m.queueLength.WithLabelValues(eventID, gateID, string(models.GateEntryVerified)).Set(float64(traffic.VerifiedCount))
}

func (m *Monitor) ObserveAdmission(eventID, gateID string, waited time.Duration) {
	m.admissionWait.WithLabelValues(eventID, gateID).Observe(waited.Seconds())
}

// Run samples process and Redis health every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.collect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collect(ctx)
		}
	}
}

func (m *Monitor) collect(ctx context.Context) {
	m.goroutineCount.Set(float64(runtime.NumGoroutine()))

	if m.redis == nil {
		return
	}
	if err := m.redis.Ping(ctx).Err(); err != nil {
		m.redisUp.Set(0)
		return
	}
	m.redisUp.Set(1)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
