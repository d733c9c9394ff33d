package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/uplink/internal/runtime/envelope"
	errspkg "github.com/drblury/uplink/internal/runtime/errors"
	loggingpkg "github.com/drblury/uplink/internal/runtime/logging"
	"github.com/drblury/uplink/internal/runtime/payload"
	"github.com/drblury/uplink/internal/runtime/status"
	"github.com/drblury/uplink/internal/runtime/uri"
)

// RequestHandler answers one request. A returned error is sent back as the
// response status: a *status.Status keeps its code, anything else becomes
// INTERNAL.
type RequestHandler func(ctx context.Context, req *envelope.Message) (payload.Payload, error)

// Bind serves method. Requests are handled one at a time in arrival order and
// each gets exactly one response.
func (n *Node) Bind(ctx context.Context, method uri.Identity, handler RequestHandler) (*Subscription, error) {
	if err := uri.ValidateMethod(method); err != nil {
		return nil, status.Wrap(status.InvalidArgument, err)
	}
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	return n.subscribe(ctx, method.Topic(), func(msg *message.Message) error {
		req, err := n.decodeEnvelope(msg)
		if err != nil {
			return err
		}
		if req.Type != envelope.TypeRequest || req.Sink != method {
			n.dropped(msg, "not a request for this method", loggingpkg.LogFields{
				"type": req.Type.String(),
				"sink": req.Sink.String(),
			})
			return errDropped
		}
		return n.respond(msg.Context(), req, handler)
	})
}

// BindTyped serves method with typed request and response values. Requests
// that fail to decode are answered with INVALID_ARGUMENT.
func BindTyped[Req, Res any](ctx context.Context, n *Node, method uri.Identity, decoder payload.Decoder[Req], encoder payload.Encoder[Res], fn func(ctx context.Context, req Req) (Res, error)) (*Subscription, error) {
	if n == nil {
		return nil, errspkg.ErrNodeRequired
	}
	if decoder == nil || encoder == nil || fn == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	return n.Bind(ctx, method, func(ctx context.Context, req *envelope.Message) (payload.Payload, error) {
		in, err := decoder.Decode(req.Payload)
		if err != nil {
			return payload.Payload{}, status.Wrap(status.InvalidArgument, err)
		}
		out, err := fn(ctx, in)
		if err != nil {
			return payload.Payload{}, err
		}
		return encoder.Encode(out)
	})
}

func (n *Node) respond(ctx context.Context, req *envelope.Message, handler RequestHandler) error {
	ctx, span := n.tracer.Start(ctx, "uplink.rpc.serve", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	span.SetAttributes(
		attribute.String("uplink.method", req.Sink.String()),
		attribute.String("uplink.request_id", req.ID),
	)

	data, err := invokeHandler(ctx, req, handler)
	res := envelope.NewResponse(req, data)
	if err != nil {
		st := toStatus(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, st.Error())
		n.Logger.Error("RPC handler failed", err, loggingpkg.LogFields{
			"method":     req.Sink.String(),
			"request_id": req.ID,
			"status":     st.Code.String(),
		})
		res = envelope.NewErrorResponse(req, st)
	}

	if err := n.Send(ctx, res); err != nil {
		return fmt.Errorf("send response to %s: %w", req.Source, err)
	}
	return nil
}

func invokeHandler(ctx context.Context, req *envelope.Message, handler RequestHandler) (data payload.Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = status.Newf(status.Internal, "handler panicked: %v", r)
		}
	}()
	return handler(ctx, req)
}

func toStatus(err error) *status.Status {
	var st *status.Status
	if errors.As(err, &st) {
		return st
	}
	return status.Wrap(status.Internal, err)
}
