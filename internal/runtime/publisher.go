package runtime

import (
	"context"
	"fmt"
	"time"

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

// Publisher sends messages on one topic with a fixed priority. Interval is
// the cadence a scheduler uses for it; zero means the base tick.
type Publisher struct {
	node     *Node
	topic    uri.Identity
	priority envelope.Priority
	interval time.Duration
	ttl      time.Duration
}

// PublisherOption customises a Publisher.
type PublisherOption func(*Publisher)

// WithPriority sets the priority attached to every message.
func WithPriority(p envelope.Priority) PublisherOption {
	return func(pub *Publisher) {
		pub.priority = p
	}
}

// WithInterval sets the repeat interval used when the publisher is scheduled.
func WithInterval(d time.Duration) PublisherOption {
	return func(pub *Publisher) {
		pub.interval = d
	}
}

// WithTTL sets the time-to-live attached to every message.
func WithTTL(d time.Duration) PublisherOption {
	return func(pub *Publisher) {
		pub.ttl = d
	}
}

// NewPublisher binds a publisher to topic, which must be in the publish
// resource range.
func (n *Node) NewPublisher(topic uri.Identity, opts ...PublisherOption) (*Publisher, error) {
	if err := uri.ValidateTopic(topic); err != nil {
		return nil, status.Wrap(status.InvalidArgument, err)
	}
	p := &Publisher{
		node:     n,
		topic:    topic,
		priority: envelope.DefaultPublishPriority,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.interval < 0 {
		return nil, status.Newf(status.InvalidArgument, "publish interval %s is negative", p.interval)
	}
	return p, nil
}

// Topic returns the identity the publisher sends on.
func (p *Publisher) Topic() uri.Identity { return p.topic }

// Priority returns the priority attached to every message.
func (p *Publisher) Priority() envelope.Priority { return p.priority }

// Interval returns the scheduling interval.
func (p *Publisher) Interval() time.Duration { return p.interval }

// Publish sends one message carrying data. Transport failures wrap
// ErrSendFailure.
func (p *Publisher) Publish(ctx context.Context, data payload.Payload) error {
	msg := envelope.NewPublish(p.topic, data)
	msg.Priority = p.priority
	msg.TTL = p.ttl
	return p.node.Send(ctx, msg)
}

// PublishValue encodes v and publishes it.
func PublishValue[T any](ctx context.Context, p *Publisher, encoder payload.Encoder[T], v T) error {
	if encoder == nil {
		return errspkg.ErrEncoderRequired
	}
	data, err := encoder.Encode(v)
	if err != nil {
		return err
	}
	return p.Publish(ctx, data)
}

// Send validates msg and hands it to the transport.
func (n *Node) Send(ctx context.Context, msg *envelope.Message) error {
	if msg == nil {
		return status.New(status.InvalidArgument, "message is nil")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if n.isClosed() {
		return fmt.Errorf("%w: %w", errspkg.ErrSendFailure, errspkg.ErrNodeClosed)
	}

	topic := msg.Topic()
	ctx, span := n.tracer.Start(ctx, "uplink.send", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("uplink.topic", topic),
		attribute.String("uplink.type", msg.Type.String()),
		attribute.String("uplink.message_id", msg.ID),
	)

	wm := envelope.ToWatermill(msg)
	wm.SetContext(ctx)
	err := n.publisher.Publish(topic, wm)
	n.metrics.RecordPublish(topic, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		n.Logger.Error("Send failed", err, loggingpkg.LogFields{
			"topic":      topic,
			"message_id": msg.ID,
			"type":       msg.Type.String(),
		})
		return fmt.Errorf("%w: %s: %w", errspkg.ErrSendFailure, topic, err)
	}
	return nil
}
