package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	wmmetrics "github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	configpkg "github.com/drblury/uplink/internal/runtime/config"
	errspkg "github.com/drblury/uplink/internal/runtime/errors"
	loggingpkg "github.com/drblury/uplink/internal/runtime/logging"
	transportpkg "github.com/drblury/uplink/internal/runtime/transport"
	"github.com/drblury/uplink/internal/runtime/uri"
	"github.com/drblury/uplink/transport"
)

const tracerName = "uplink"

// NodeDependencies holds the optional collaborators a Node can use. Leave
// fields nil to get the defaults.
type NodeDependencies struct {
	TransportFactory transportpkg.Factory
	// Registerer receives the node's Prometheus collectors. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// Gatherer backs the /metrics endpoint. Defaults to Registerer when it
	// is also a Gatherer, else prometheus.DefaultGatherer.
	Gatherer                  prometheus.Gatherer
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
}

// Node owns one transport and everything that sends or receives through it:
// publishers, subscriptions and RPC endpoints.
type Node struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	source     uri.Identity
	transport  transport.Transport
	publisher  message.Publisher
	subscriber message.Subscriber

	metrics        *Metrics
	metricsBuilder *wmmetrics.PrometheusMetricsBuilder
	gatherer       prometheus.Gatherer
	tracer         trace.Tracer

	middlewares []message.HandlerMiddleware

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool

	httpServers   map[int]*http.ServeMux
	runningHTTP   []*http.Server
	httpServersMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewNode constructs a Node and panics on failure. Use TryNewNode to get the
// error instead.
func NewNode(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps NodeDependencies) *Node {
	n, err := TryNewNode(conf, log, ctx, deps)
	if err != nil {
		panic(err)
	}
	return n
}

// TryNewNode validates conf, builds the configured transport and prepares the
// dispatch middleware chain. Transport failures wrap ErrTransportUnavailable.
func TryNewNode(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps NodeDependencies) (*Node, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := configpkg.ValidateConfig(conf); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	source, err := conf.SourceIdentity()
	if err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	log.Info("Creating uplink node", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"source":        source.String(),
		"config":        conf,
	})

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	wmLogger := loggingpkg.NewWatermillAdapter(log)
	tr, err := factory.Build(ctx, conf, wmLogger)
	if err != nil {
		if !errors.Is(err, errspkg.ErrTransportUnavailable) {
			err = fmt.Errorf("%w: %w", errspkg.ErrTransportUnavailable, err)
		}
		return nil, err
	}

	registerer := deps.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		if g, ok := registerer.(prometheus.Gatherer); ok {
			gatherer = g
		} else {
			gatherer = prometheus.DefaultGatherer
		}
	}

	nodeCtx, cancel := context.WithCancel(context.Background())
	n := &Node{
		Conf:       conf,
		Logger:     log,
		source:     source,
		transport:  tr,
		publisher:  tr.Publisher,
		subscriber: tr.Subscriber,
		metrics:    NewMetrics(registerer),
		gatherer:   gatherer,
		tracer:     noop.NewTracerProvider().Tracer(tracerName),
		ctx:        nodeCtx,
		cancel:     cancel,
	}
	if conf.TracingEnabled {
		n.tracer = otel.Tracer(tracerName)
	}

	if err := n.setupMetrics(registerer); err != nil {
		cancel()
		_ = tr.Close()
		return nil, err
	}
	if err := n.registerConfiguredMiddlewares(deps); err != nil {
		cancel()
		_ = tr.Close()
		return nil, err
	}
	return n, nil
}

func (n *Node) setupMetrics(registerer prometheus.Registerer) error {
	if !n.Conf.MetricsEnabled {
		return nil
	}
	if err := n.metrics.Register(); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	builder := wmmetrics.NewPrometheusMetricsBuilder(registerer, metricsNamespace, n.Conf.PubSubSystem)
	pub, err := builder.DecoratePublisher(n.publisher)
	if err != nil {
		return fmt.Errorf("decorate publisher: %w", err)
	}
	sub, err := builder.DecorateSubscriber(n.subscriber)
	if err != nil {
		return fmt.Errorf("decorate subscriber: %w", err)
	}
	n.publisher = pub
	n.subscriber = sub
	n.metricsBuilder = &builder

	if n.Conf.MetricsPort > 0 {
		n.RegisterHTTPHandler(n.Conf.MetricsPort, "/metrics", promhttp.HandlerFor(n.gatherer, promhttp.HandlerOpts{}))
	}
	return nil
}

// Source returns the node identity from the configuration.
func (n *Node) Source() uri.Identity {
	return n.source
}

// Metrics returns the node's collectors. They record even when metrics are
// not exported.
func (n *Node) Metrics() *Metrics {
	return n.metrics
}

// Start serves the registered HTTP handlers, such as /metrics. It does not
// block.
func (n *Node) Start() error {
	return n.startHTTPServers()
}

// Close ends every subscription, stops HTTP servers and closes the transport.
// Calling Close more than once returns the first result.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		n.mu.Lock()
		n.closed = true
		n.mu.Unlock()

		n.cancel()
		n.wg.Wait()

		var errs []error
		errs = append(errs, n.stopHTTPServers())
		errs = append(errs, n.transport.Close())
		n.closeErr = errors.Join(errs...)
		n.Logger.Info("Uplink node closed", nil)
	})
	return n.closeErr
}

func (n *Node) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// RegisterHTTPHandler mounts handler on the server for port. Servers start
// with Start.
func (n *Node) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	n.httpServersMu.Lock()
	defer n.httpServersMu.Unlock()

	if n.httpServers == nil {
		n.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := n.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		n.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (n *Node) startHTTPServers() error {
	n.httpServersMu.Lock()
	defer n.httpServersMu.Unlock()

	for port, mux := range n.httpServers {
		addr := fmt.Sprintf(":%d", port)
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		n.runningHTTP = append(n.runningHTTP, server)
		n.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func() {
			if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				n.Logger.Error("HTTP server failed", err, loggingpkg.LogFields{"address": addr})
			}
		}()
	}
	n.httpServers = nil
	return nil
}

func (n *Node) stopHTTPServers() error {
	n.httpServersMu.Lock()
	defer n.httpServersMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var errs []error
	for _, server := range n.runningHTTP {
		errs = append(errs, server.Shutdown(ctx))
	}
	n.runningHTTP = nil
	return errors.Join(errs...)
}
