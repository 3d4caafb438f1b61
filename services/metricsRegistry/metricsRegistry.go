package metricsregistry

import (
	"errors"
	"net/http"
	"time"

	"github.com/kychandar/robobridge/common"
	"github.com/kychandar/robobridge/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry    *prometheus.Registry
	handler     http.Handler
	latencyHist *prometheus.HistogramVec
	wsConnGuage *prometheus.GaugeVec
	delivered   *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	rejected    *prometheus.CounterVec
}

func New() services.MetricsRegistry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())

	latencyHist := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "robobridge_delivery_latency_ms",
			Help: "Time from payload generation to enqueue on the connection writer in milli seconds",
			Buckets: []float64{
				0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 50, 100, 250, 500, 1000,
			},
		},
		[]string{"robot", "topic"},
	)
	wsConnGuage := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "robobridge_ws_connections_current",
			Help: "Number of currently active WebSocket connections",
		},
		[]string{"robot"},
	)
	delivered := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robobridge_messages_delivered_total",
			Help: "Message frames handed to connection writers",
		},
		[]string{"robot", "topic"},
	)
	dropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robobridge_frames_dropped_total",
			Help: "Frames dropped on the read or write path",
		},
		[]string{"robot", "reason"},
	)
	rejected := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robobridge_subscribe_rejected_total",
			Help: "Subscribe frames rejected for unknown topics",
		},
		[]string{"robot"},
	)
	registry.MustRegister(latencyHist, wsConnGuage, delivered, dropped, rejected)

	return &metricsRegistry{
		registry:    registry,
		handler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		latencyHist: latencyHist,
		wsConnGuage: wsConnGuage,
		delivered:   delivered,
		dropped:     dropped,
		rejected:    rejected,
	}
}

func (mr *metricsRegistry) GetHandler() http.Handler {
	return mr.handler
}

func (mr *metricsRegistry) IncWsConnectionCount(robot common.RobotID) {
	mr.wsConnGuage.WithLabelValues(string(robot)).Inc()
}

func (mr *metricsRegistry) DecWsConnectionCount(robot common.RobotID) {
	mr.wsConnGuage.WithLabelValues(string(robot)).Dec()
}

func (mr *metricsRegistry) IncMessagesDelivered(robot common.RobotID, topic common.TopicName) {
	mr.delivered.WithLabelValues(string(robot), string(topic)).Inc()
}

func (mr *metricsRegistry) IncFramesDropped(robot common.RobotID, reason string) {
	mr.dropped.WithLabelValues(string(robot), reason).Inc()
}

func (mr *metricsRegistry) IncSubscribeRejected(robot common.RobotID) {
	mr.rejected.WithLabelValues(string(robot)).Inc()
}

func (mr *metricsRegistry) ObserveDeliveryLatency(robot common.RobotID, topic common.TopicName, generatedAt time.Time) {
	ms := float64(time.Since(generatedAt).Microseconds()) / 1000
	mr.latencyHist.WithLabelValues(string(robot), string(topic)).Observe(ms)
}

// RegisterLiveHandles exposes live as the robot's live delivery handle gauge.
// Registering the same robot again keeps the first function.
func (mr *metricsRegistry) RegisterLiveHandles(robot common.RobotID, live func() float64) {
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "robobridge_delivery_handles_live",
		Help:        "Delivery handles that have not finished cancelling",
		ConstLabels: prometheus.Labels{"robot": string(robot)},
	}, live)
	var are prometheus.AlreadyRegisteredError
	if err := mr.registry.Register(gauge); err != nil && !errors.As(err, &are) {
		panic(err)
	}
}
