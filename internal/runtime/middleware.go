package runtime

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	loggingpkg "github.com/drblury/uplink/internal/runtime/logging"
	metadatapkg "github.com/drblury/uplink/internal/runtime/metadata"
)

// MiddlewareBuilder constructs a dispatch middleware using the provided node.
type MiddlewareBuilder func(*Node) (message.HandlerMiddleware, error)

// MiddlewareRegistration captures how a middleware wraps subscription
// handlers. Exactly one of Middleware or Builder is used.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the standard dispatch chain, outermost first.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		TracerMiddleware(),
		MetricsMiddleware(),
		LogMessagesMiddleware(nil),
		RecovererMiddleware(),
	}
}

// MetricsMiddleware records handler timings with Watermill's Prometheus
// middleware when metrics are enabled.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(n *Node) (message.HandlerMiddleware, error) {
			if n.metricsBuilder == nil {
				return nil, nil
			}
			return n.metricsBuilder.NewRouterMiddleware().Middleware, nil
		},
	}
}

// LogMessagesMiddleware logs the metadata of every dispatched message at
// debug level.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(n *Node) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = n.Logger
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return logMessagesMiddleware(l), nil
		},
	}
}

// TracerMiddleware wraps dispatch in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Builder: func(n *Node) (message.HandlerMiddleware, error) {
			return tracerMiddleware(n.tracer), nil
		},
	}
}

// RecovererMiddleware converts handler panics into errors.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}

// RegisterMiddleware appends a middleware to the dispatch chain. It applies
// to subscriptions created afterwards.
func (n *Node) RegisterMiddleware(cfg MiddlewareRegistration) error {
	var mw message.HandlerMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(n)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	n.mu.Lock()
	n.middlewares = append(n.middlewares, mw)
	n.mu.Unlock()
	return nil
}

func (n *Node) registerConfiguredMiddlewares(deps NodeDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := n.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("register middleware %s: %w", name, err)
		}
	}
	return nil
}

// chain wraps h with the registered middlewares; the first registered is
// outermost.
func (n *Node) chain(h message.HandlerFunc) message.HandlerFunc {
	n.mu.Lock()
	mws := append([]message.HandlerMiddleware(nil), n.middlewares...)
	n.mu.Unlock()

	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func logMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Debug("Dispatching message", loggingpkg.LogFields{
				"message_id": msg.UUID,
				"type":       msg.Metadata.Get(metadatapkg.KeyType),
				"source":     msg.Metadata.Get(metadatapkg.KeySource),
				"sink":       msg.Metadata.Get(metadatapkg.KeySink),
				"format":     msg.Metadata.Get(metadatapkg.KeyFormat),
				"size":       len(msg.Payload),
			})
			return h(msg)
		}
	}
}

func tracerMiddleware(tracer trace.Tracer) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			ctx, span := tracer.Start(msg.Context(), "uplink.dispatch", trace.WithSpanKind(trace.SpanKindConsumer))
			defer span.End()
			msg.SetContext(ctx)

			span.SetAttributes(
				attribute.String("uplink.message_id", msg.UUID),
				attribute.String("uplink.type", msg.Metadata.Get(metadatapkg.KeyType)),
				attribute.String("uplink.source", msg.Metadata.Get(metadatapkg.KeySource)),
			)
			out, err := h(msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return out, err
		}
	}
}
