package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/uplink/internal/runtime/envelope"
	errspkg "github.com/drblury/uplink/internal/runtime/errors"
	loggingpkg "github.com/drblury/uplink/internal/runtime/logging"
	"github.com/drblury/uplink/internal/runtime/payload"
	"github.com/drblury/uplink/internal/runtime/status"
	"github.com/drblury/uplink/internal/runtime/uri"
)

// errDropped marks a message that was logged and discarded without reaching
// a handler.
var errDropped = errors.New("message dropped")

// MessageHandler receives decoded envelopes. Returned errors are logged; the
// message is acknowledged either way.
type MessageHandler func(ctx context.Context, msg *envelope.Message) error

// Subscription is a live registration on a topic. It ends on Unsubscribe,
// when the context passed to Subscribe is done, or when the node closes.
type Subscription struct {
	topic  string
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Topic returns the transport topic the subscription listens on.
func (s *Subscription) Topic() string {
	return s.topic
}

// Done is closed once the subscription has stopped dispatching.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Unsubscribe stops the subscription and waits for an in-flight handler to
// return. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
	<-s.done
}

// Subscribe registers handler for messages published on topic. The handle is
// live when Subscribe returns.
func (n *Node) Subscribe(ctx context.Context, topic uri.Identity, handler MessageHandler) (*Subscription, error) {
	if err := uri.ValidateTopic(topic); err != nil {
		return nil, status.Wrap(status.InvalidArgument, err)
	}
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	return n.subscribe(ctx, topic.Topic(), func(msg *message.Message) error {
		env, err := n.decodeEnvelope(msg)
		if err != nil {
			return err
		}
		if env.Type != envelope.TypePublish {
			n.dropped(msg, "unexpected message type", loggingpkg.LogFields{"type": env.Type.String()})
			return errDropped
		}
		return handler(msg.Context(), env)
	})
}

// SubscribeTyped subscribes to topic and decodes each payload with decoder
// before calling handler. Payloads that fail to decode are logged and dropped.
func SubscribeTyped[T any](ctx context.Context, n *Node, topic uri.Identity, decoder payload.Decoder[T], handler func(ctx context.Context, msg *envelope.Message, value T) error) (*Subscription, error) {
	if n == nil {
		return nil, errspkg.ErrNodeRequired
	}
	if decoder == nil || handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	return n.Subscribe(ctx, topic, func(ctx context.Context, msg *envelope.Message) error {
		value, err := decoder.Decode(msg.Payload)
		if err != nil {
			n.Logger.Error("Dropping undecodable payload", err, loggingpkg.LogFields{
				"topic":      topic.String(),
				"message_id": msg.ID,
				"format":     msg.Payload.Format.String(),
				"size":       msg.Payload.Len(),
			})
			return errDropped
		}
		return handler(ctx, msg, value)
	})
}

// subscribe starts a dispatcher goroutine for topic. Every message is passed
// through the middleware chain once and acknowledged afterwards.
func (n *Node) subscribe(ctx context.Context, topic string, handler func(*message.Message) error) (*Subscription, error) {
	// The closed check and wg.Add share the lock Close takes before Wait, so
	// no dispatcher starts after Close has waited.
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", errspkg.ErrTransportUnavailable, errspkg.ErrNodeClosed)
	}
	n.wg.Add(1)
	n.mu.Unlock()

	subCtx, cancel := context.WithCancel(n.ctx)
	stop := context.AfterFunc(ctx, cancel)

	messages, err := n.subscriber.Subscribe(subCtx, topic)
	if err != nil {
		stop()
		cancel()
		n.wg.Done()
		return nil, fmt.Errorf("%w: subscribe %s: %w", errspkg.ErrTransportUnavailable, topic, err)
	}

	sub := &Subscription{
		topic:  topic,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	h := n.chain(func(msg *message.Message) ([]*message.Message, error) {
		return nil, handler(msg)
	})

	go func() {
		defer n.wg.Done()
		defer close(sub.done)
		defer stop()
		defer cancel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				n.dispatch(subCtx, topic, msg, h)
			}
		}
	}()

	n.Logger.Debug("Subscribed", loggingpkg.LogFields{"topic": topic})
	return sub, nil
}

func (n *Node) dispatch(ctx context.Context, topic string, msg *message.Message, h message.HandlerFunc) {
	defer msg.Ack()
	msg.SetContext(ctx)

	err := runHandler(h, msg)
	if errors.Is(err, errDropped) {
		n.metrics.RecordReceive(topic, ResultDropped)
		return
	}
	if err != nil {
		n.Logger.Error("Handler failed", err, loggingpkg.LogFields{
			"topic":      topic,
			"message_id": msg.UUID,
		})
		n.metrics.RecordReceive(topic, ResultFailed)
		return
	}
	n.metrics.RecordReceive(topic, ResultOK)
}

// runHandler turns a handler panic into an error so one bad message never
// takes the dispatcher down, with or without the recoverer middleware.
func runHandler(h message.HandlerFunc, msg *message.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	_, err = h(msg)
	return err
}

func (n *Node) decodeEnvelope(msg *message.Message) (*envelope.Message, error) {
	env, err := envelope.FromWatermill(msg)
	if err != nil {
		n.dropped(msg, "malformed message", loggingpkg.LogFields{"error": err.Error()})
		return nil, errDropped
	}
	return env, nil
}

func (n *Node) dropped(msg *message.Message, reason string, fields loggingpkg.LogFields) {
	all := loggingpkg.LogFields{
		"message_id": msg.UUID,
		"reason":     reason,
	}
	for k, v := range fields {
		all[k] = v
	}
	n.Logger.Debug("Dropping message", all)
}
