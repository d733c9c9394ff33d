package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/uplink/internal/runtime/config"
	"github.com/drblury/uplink/internal/runtime/envelope"
	errspkg "github.com/drblury/uplink/internal/runtime/errors"
	loggingpkg "github.com/drblury/uplink/internal/runtime/logging"
	"github.com/drblury/uplink/internal/runtime/payload"
	"github.com/drblury/uplink/internal/runtime/status"
	"github.com/drblury/uplink/internal/runtime/uri"
)

// ResultKind classifies how a call resolved.
type ResultKind int

const (
	ResultUnresolved ResultKind = iota
	// ResultResponse means a successful response arrived.
	ResultResponse
	// ResultTimeout means the ttl elapsed first.
	ResultTimeout
	// ResultTransportError covers send failures and error-status responses.
	ResultTransportError
	// ResultCancelled means the caller's context ended first.
	ResultCancelled
)

func (k ResultKind) String() string {
	switch k {
	case ResultResponse:
		return "response"
	case ResultTimeout:
		return "timeout"
	case ResultTransportError:
		return "transport_error"
	case ResultCancelled:
		return "cancelled"
	default:
		return "unresolved"
	}
}

// Result is the resolution of a call. Response is set whenever a response
// arrived, including error-status responses.
type Result struct {
	Kind     ResultKind
	Response *envelope.Message
	Err      error
	Elapsed  time.Duration
}

// OK reports whether the call produced a successful response.
func (r Result) OK() bool {
	return r.Kind == ResultResponse && r.Err == nil
}

// Decode decodes the response payload of a successful result.
func Decode[T any](r Result, decoder payload.Decoder[T]) (T, error) {
	var zero T
	if !r.OK() {
		if r.Err != nil {
			return zero, r.Err
		}
		return zero, fmt.Errorf("call resolved as %s", r.Kind)
	}
	return decoder.Decode(r.Response.Payload)
}

// CallState tracks a call through Built, Sent and Resolved.
type CallState int

const (
	CallBuilt CallState = iota
	CallSent
	CallResolved
)

func (s CallState) String() string {
	switch s {
	case CallBuilt:
		return "built"
	case CallSent:
		return "sent"
	default:
		return "resolved"
	}
}

// RPCClient sends requests from the node's reply identity and correlates the
// responses by request ID.
type RPCClient struct {
	node       *Node
	replyTo    uri.Identity
	defaultTTL time.Duration
	sub        *Subscription

	mu      sync.Mutex
	pending map[string]*Call
}

// NewRPCClient subscribes to the node's reply topic. The node must have a
// source identity.
func (n *Node) NewRPCClient(ctx context.Context) (*RPCClient, error) {
	if n.source.EntityID == 0 {
		return nil, errspkg.ErrSourceRequired
	}
	ttl := n.Conf.RPCTTL
	if ttl <= 0 {
		ttl = configpkg.DefaultRPCTTL
	}
	c := &RPCClient{
		node:       n,
		replyTo:    n.source.ReplyTo(),
		defaultTTL: ttl,
		pending:    make(map[string]*Call),
	}
	sub, err := n.subscribe(ctx, c.replyTo.Topic(), c.onResponse)
	if err != nil {
		return nil, err
	}
	c.sub = sub
	return c, nil
}

// Close stops receiving responses and cancels every pending call.
func (c *RPCClient) Close() {
	c.sub.Unsubscribe()

	c.mu.Lock()
	calls := make([]*Call, 0, len(c.pending))
	for _, call := range c.pending {
		calls = append(calls, call)
	}
	c.mu.Unlock()

	for _, call := range calls {
		call.resolve(ResultCancelled, nil, status.New(status.Cancelled, "rpc client closed"))
	}
}

// Pending returns the number of calls awaiting a response.
func (c *RPCClient) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Request starts building a call to method.
func (c *RPCClient) Request(method uri.Identity) *RequestBuilder {
	return &RequestBuilder{
		client:   c,
		method:   method,
		ttl:      c.defaultTTL,
		priority: envelope.MinRequestPriority,
	}
}

// Invoke builds, sends and awaits a call in one step.
func (c *RPCClient) Invoke(ctx context.Context, method uri.Identity, data payload.Payload, ttl time.Duration) Result {
	call, err := c.Request(method).WithPayload(data).WithTTL(ttl).Build()
	if err != nil {
		return Result{Kind: ResultTransportError, Err: err}
	}
	// A failed send resolves the call, so Await returns at once.
	_ = call.Send(ctx)
	return call.Await(ctx)
}

func (c *RPCClient) onResponse(msg *message.Message) error {
	res, err := c.node.decodeEnvelope(msg)
	if err != nil {
		return err
	}
	if res.Type != envelope.TypeResponse {
		c.node.dropped(msg, "unexpected message type", loggingpkg.LogFields{"type": res.Type.String()})
		return errDropped
	}

	c.mu.Lock()
	call, ok := c.pending[res.RequestID]
	c.mu.Unlock()
	if !ok || res.Expired(time.Now()) {
		c.node.Logger.Debug("Discarding late response", loggingpkg.LogFields{
			"request_id": res.RequestID,
			"message_id": res.ID,
		})
		return errDropped
	}

	if err := res.Err(); err != nil {
		call.resolve(ResultTransportError, res, err)
		return nil
	}
	call.resolve(ResultResponse, res, nil)
	return nil
}

// RequestBuilder collects the attributes of a request.
type RequestBuilder struct {
	client   *RPCClient
	method   uri.Identity
	data     payload.Payload
	ttl      time.Duration
	priority envelope.Priority
}

// WithPayload sets the request payload.
func (b *RequestBuilder) WithPayload(data payload.Payload) *RequestBuilder {
	b.data = data
	return b
}

// WithTTL sets how long the caller waits for the response.
func (b *RequestBuilder) WithTTL(ttl time.Duration) *RequestBuilder {
	b.ttl = ttl
	return b
}

// WithPriority sets the request priority; it must be CS4 or higher.
func (b *RequestBuilder) WithPriority(p envelope.Priority) *RequestBuilder {
	b.priority = p
	return b
}

// Build validates the request and returns a call in the Built state.
func (b *RequestBuilder) Build() (*Call, error) {
	if b.ttl <= 0 {
		return nil, status.Wrap(status.InvalidArgument, errspkg.ErrInvalidTTL)
	}
	req := envelope.NewRequest(b.client.node.source, b.method, b.data, b.ttl)
	req.Priority = b.priority
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &Call{
		client:  b.client,
		request: req,
		done:    make(chan struct{}),
	}, nil
}

// Call is one request and its eventual result.
type Call struct {
	client  *RPCClient
	request *envelope.Message

	mu     sync.Mutex
	state  CallState
	sentAt time.Time
	timer  *time.Timer
	span   trace.Span
	result Result
	done   chan struct{}
}

// ID returns the request ID used for correlation.
func (c *Call) ID() string {
	return c.request.ID
}

// Request returns the request message.
func (c *Call) Request() *envelope.Message {
	return c.request
}

// State returns the current state.
func (c *Call) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when the call resolves.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Send registers the call as pending and publishes the request. The ttl
// starts counting here. A send failure resolves the call as a transport
// error.
func (c *Call) Send(ctx context.Context) error {
	c.mu.Lock()
	if c.state != CallBuilt {
		c.mu.Unlock()
		return errspkg.ErrAlreadySent
	}
	client := c.client
	client.mu.Lock()
	if _, exists := client.pending[c.request.ID]; exists {
		client.mu.Unlock()
		c.mu.Unlock()
		return errspkg.ErrDuplicateRequest
	}
	client.pending[c.request.ID] = c
	client.mu.Unlock()

	c.state = CallSent
	c.sentAt = time.Now()
	spanCtx, span := client.node.tracer.Start(ctx, "uplink.rpc.call", trace.WithSpanKind(trace.SpanKindClient))
	c.span = span
	span.SetAttributes(
		attribute.String("uplink.method", c.request.Sink.String()),
		attribute.String("uplink.request_id", c.request.ID),
		attribute.Int64("uplink.ttl_ms", c.request.TTL.Milliseconds()),
	)
	c.timer = time.AfterFunc(c.request.TTL, func() {
		c.resolve(ResultTimeout, nil, status.Newf(status.DeadlineExceeded, "no response within %s", c.request.TTL))
	})
	c.mu.Unlock()

	if err := client.node.Send(spanCtx, c.request); err != nil {
		c.resolve(ResultTransportError, nil, err)
		return err
	}
	return nil
}

// Await blocks until the call resolves or ctx ends. A ctx that ends first
// resolves the call as Cancelled. Awaiting a call that was never sent
// returns a transport error without blocking.
func (c *Call) Await(ctx context.Context) Result {
	if c.State() == CallBuilt {
		return Result{Kind: ResultTransportError, Err: errspkg.ErrNotSent}
	}
	select {
	case <-c.done:
	case <-ctx.Done():
		c.resolve(ResultCancelled, nil, status.Wrap(status.Cancelled, errors.Join(errspkg.ErrCancelled, ctx.Err())))
	}
	<-c.done
	return c.result
}

// resolve records the first outcome and removes the pending entry; later
// outcomes are ignored.
func (c *Call) resolve(kind ResultKind, res *envelope.Message, err error) {
	c.mu.Lock()
	if c.state == CallResolved {
		c.mu.Unlock()
		return
	}
	c.state = CallResolved
	if c.timer != nil {
		c.timer.Stop()
	}
	elapsed := time.Since(c.sentAt)
	c.result = Result{Kind: kind, Response: res, Err: err, Elapsed: elapsed}
	span := c.span
	c.mu.Unlock()

	client := c.client
	client.mu.Lock()
	delete(client.pending, c.request.ID)
	client.mu.Unlock()

	method := c.request.Sink.String()
	client.node.metrics.RecordCall(method, kind, elapsed)
	if span != nil {
		span.SetAttributes(attribute.String("uplink.outcome", kind.String()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
	if kind != ResultResponse {
		client.node.Logger.Debug("RPC call failed", loggingpkg.LogFields{
			"method":     method,
			"request_id": c.request.ID,
			"outcome":    kind.String(),
			"status":     status.CodeOf(err).String(),
		})
	}
	close(c.done)
}
