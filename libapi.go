package uplink

import (
	"context"

	runtimepkg "github.com/drblury/uplink/internal/runtime"
	configpkg "github.com/drblury/uplink/internal/runtime/config"
	"github.com/drblury/uplink/internal/runtime/envelope"
	errspkg "github.com/drblury/uplink/internal/runtime/errors"
	idspkg "github.com/drblury/uplink/internal/runtime/ids"
	jsoncodec "github.com/drblury/uplink/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/uplink/internal/runtime/logging"
	metadatapkg "github.com/drblury/uplink/internal/runtime/metadata"
	"github.com/drblury/uplink/internal/runtime/payload"
	"github.com/drblury/uplink/internal/runtime/status"
	transportpkg "github.com/drblury/uplink/internal/runtime/transport"
	"github.com/drblury/uplink/internal/runtime/uri"
	newtransport "github.com/drblury/uplink/transport"
)

type (
	Config           = configpkg.Config
	Node             = runtimepkg.Node
	NodeDependencies = runtimepkg.NodeDependencies
	Transport        = newtransport.Transport
	TransportFactory = transportpkg.Factory

	Identity = uri.Identity
	Message  = envelope.Message
	Priority = envelope.Priority
	Payload  = payload.Payload
	Format   = payload.Format
	Metadata = metadatapkg.Metadata

	Status     = status.Status
	StatusCode = status.Code

	Publisher       = runtimepkg.Publisher
	PublisherOption = runtimepkg.PublisherOption
	Scheduler       = runtimepkg.Scheduler
	SchedulerOption = runtimepkg.SchedulerOption
	PublishJob      = runtimepkg.PublishJob
	EncodeFunc      = runtimepkg.EncodeFunc

	Subscription   = runtimepkg.Subscription
	MessageHandler = runtimepkg.MessageHandler
	RequestHandler = runtimepkg.RequestHandler

	RPCClient      = runtimepkg.RPCClient
	RequestBuilder = runtimepkg.RequestBuilder
	Call           = runtimepkg.Call
	CallState      = runtimepkg.CallState
	Result         = runtimepkg.Result
	ResultKind     = runtimepkg.ResultKind

	Metrics                = runtimepkg.Metrics
	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError = errspkg.ConfigValidationError

	// Job lifecycle hooks
	JobContext = runtimepkg.JobContext
	JobHooks   = runtimepkg.JobHooks

	// Payload codecs
	TimeCodec    = payload.TimeCodec
	CounterCodec = payload.CounterCodec
	Counter      = payload.Counter
	TextCodec    = payload.TextCodec
	AnyCodec     = payload.AnyCodec

	// Transport registry
	TransportBuilder      = newtransport.Builder
	TransportConfig       = newtransport.Config
	TransportRegistry     = newtransport.Registry
	TransportCapabilities = newtransport.Capabilities
)

const (
	FormatRaw                  = payload.FormatRaw
	FormatText                 = payload.FormatText
	FormatJSON                 = payload.FormatJSON
	FormatProtobuf             = payload.FormatProtobuf
	FormatProtobufWrappedInAny = payload.FormatProtobufWrappedInAny

	CS0 = envelope.CS0
	CS1 = envelope.CS1
	CS2 = envelope.CS2
	CS3 = envelope.CS3
	CS4 = envelope.CS4
	CS5 = envelope.CS5
	CS6 = envelope.CS6

	ResultResponse       = runtimepkg.ResultResponse
	ResultTimeout        = runtimepkg.ResultTimeout
	ResultTransportError = runtimepkg.ResultTransportError
	ResultCancelled      = runtimepkg.ResultCancelled
)

var (
	NewNode        = runtimepkg.NewNode
	TryNewNode     = runtimepkg.TryNewNode
	DefaultConfig  = configpkg.Default
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	NewIdentity   = uri.New
	ParseIdentity = uri.Parse
	MustParse     = uri.MustParse

	WithPriority = runtimepkg.WithPriority
	WithInterval = runtimepkg.WithInterval
	WithTTL      = runtimepkg.WithTTL
	NewScheduler = runtimepkg.NewScheduler
	WithBaseTick = runtimepkg.WithBaseTick
	WithJobHooks = runtimepkg.WithJobHooks

	DefaultMiddlewares    = runtimepkg.DefaultMiddlewares
	LogMessagesMiddleware = runtimepkg.LogMessagesMiddleware
	TracerMiddleware      = runtimepkg.TracerMiddleware
	MetricsMiddleware     = runtimepkg.MetricsMiddleware
	RecovererMiddleware   = runtimepkg.RecovererMiddleware

	LoggingHooks  = runtimepkg.LoggingHooks
	CountingHooks = runtimepkg.CountingHooks

	NewStatus  = status.New
	WrapStatus = status.Wrap
	CodeOf     = status.CodeOf

	ErrTransportUnavailable = errspkg.ErrTransportUnavailable
	ErrSendFailure          = errspkg.ErrSendFailure
	ErrTimeout              = errspkg.ErrTimeout
	ErrCancelled            = errspkg.ErrCancelled
	ErrFormatMismatch       = errspkg.ErrFormatMismatch
	ErrTruncated            = errspkg.ErrTruncated
	ErrNodeRequired         = errspkg.ErrNodeRequired
	ErrHandlerRequired      = errspkg.ErrHandlerRequired
	ErrEncoderRequired      = errspkg.ErrEncoderRequired
	ErrTopicRequired        = errspkg.ErrTopicRequired
	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrLoggerRequired       = errspkg.ErrLoggerRequired
	ErrInvalidTTL           = errspkg.ErrInvalidTTL
	ErrSourceRequired       = errspkg.ErrSourceRequired
	ErrNodeClosed           = errspkg.ErrNodeClosed

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewLogger            = loggingpkg.New
	NopLogger            = loggingpkg.Nop

	NewMetadata = metadatapkg.New
	CreateULID  = idspkg.CreateULID

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal

	// Transport registry. Built-in transports register themselves; import
	// "github.com/drblury/uplink/transport/transports" to link all of them.
	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build
	GetCapabilities          = newtransport.GetCapabilities
	StaticTransport          = transportpkg.Static
)

// SubscribeTyped decodes every payload on topic before calling handler.
func SubscribeTyped[T any](ctx context.Context, n *Node, topic Identity, decoder payload.Decoder[T], handler func(ctx context.Context, msg *Message, value T) error) (*Subscription, error) {
	return runtimepkg.SubscribeTyped(ctx, n, topic, decoder, handler)
}

// BindTyped serves method with typed request and response values.
func BindTyped[Req, Res any](ctx context.Context, n *Node, method Identity, decoder payload.Decoder[Req], encoder payload.Encoder[Res], fn func(ctx context.Context, req Req) (Res, error)) (*Subscription, error) {
	return runtimepkg.BindTyped(ctx, n, method, decoder, encoder, fn)
}

// PublishValue encodes v and publishes it on p.
func PublishValue[T any](ctx context.Context, p *Publisher, encoder payload.Encoder[T], v T) error {
	return runtimepkg.PublishValue(ctx, p, encoder, v)
}

// EncodeWith builds a job encoder from a codec and a value source.
func EncodeWith[T any](encoder payload.Encoder[T], next func() T) EncodeFunc {
	return runtimepkg.EncodeWith(encoder, next)
}

// Decode decodes the payload of a successful RPC result.
func Decode[T any](r Result, decoder payload.Decoder[T]) (T, error) {
	return runtimepkg.Decode(r, decoder)
}

// Fixed returns the little-endian codec for a fixed-width number type.
func Fixed[T payload.Fixed]() payload.FixedWidth[T] {
	return payload.FixedWidth[T]{}
}

// JSON returns the JSON codec for T.
func JSON[T any]() payload.JSONCodec[T] {
	return payload.JSONCodec[T]{}
}
