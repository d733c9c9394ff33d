package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "uplink"

// Result labels recorded by Metrics.
const (
	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultDropped = "dropped"
)

// Metrics holds the Prometheus collectors of a node. A nil *Metrics records
// nothing.
type Metrics struct {
	mu sync.Mutex

	published  *prometheus.CounterVec
	received   *prometheus.CounterVec
	rpcCalls   *prometheus.CounterVec
	rpcLatency *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

func newCounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewMetrics creates the collectors. Call Register to expose them.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		registerer: registerer,
		published:  newCounterVec("published_total", "Messages handed to the transport, by topic and result.", "topic", "result"),
		received:   newCounterVec("received_total", "Messages received from the transport, by topic and result.", "topic", "result"),
		rpcCalls:   newCounterVec("rpc_calls_total", "Completed RPC calls, by method and outcome.", "method", "outcome"),
		rpcLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "rpc_latency_seconds",
				Help:      "Time from sending an RPC request to its resolution.",
				Buckets:   []float64{.001, .005, .01, .02, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method"},
		),
	}
}

// Register registers the collectors. Safe to call multiple times; collectors
// already registered by another node are reused.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	var err error
	if m.published, err = registerCounter(m.registerer, m.published); err != nil {
		return err
	}
	if m.received, err = registerCounter(m.registerer, m.received); err != nil {
		return err
	}
	if m.rpcCalls, err = registerCounter(m.registerer, m.rpcCalls); err != nil {
		return err
	}
	if err := m.registerer.Register(m.rpcLatency); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return err
		}
		if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
			m.rpcLatency = existing
		}
	}

	m.registered = true
	return nil
}

func registerCounter(registerer prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	err := registerer.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		return nil, err
	}
	if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
		return existing, nil
	}
	return c, nil
}

// RecordPublish counts one publish attempt on topic.
func (m *Metrics) RecordPublish(topic string, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultFailed
	}
	m.published.WithLabelValues(topic, result).Inc()
}

// RecordReceive counts one inbound message on topic.
func (m *Metrics) RecordReceive(topic, result string) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(topic, result).Inc()
}

// RecordCall counts a resolved RPC call and observes its latency.
func (m *Metrics) RecordCall(method string, kind ResultKind, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.rpcCalls.WithLabelValues(method, kind.String()).Inc()
	m.rpcLatency.WithLabelValues(method).Observe(elapsed.Seconds())
}
