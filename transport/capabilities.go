package transport

// Capabilities describes the delivery properties of a transport backend.
type Capabilities struct {
	// Name is the registered name of the transport.
	Name string

	// SupportsOrdering indicates messages on one topic arrive in send order.
	SupportsOrdering bool

	// SupportsAck indicates the transport observes explicit acknowledgment.
	SupportsAck bool

	// SupportsNack indicates the transport redelivers nacked messages.
	SupportsNack bool

	// SupportsPriority indicates the broker can honour a priority header.
	SupportsPriority bool

	// InProcess indicates publisher and subscriber share process memory.
	InProcess bool

	// Brokerless indicates nodes talk to each other without a broker.
	Brokerless bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// SupportsReliableDelivery returns true if the transport supports at-least-once
// delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Predefined capability sets for the built-in transports.
var (
	// Channel delivers each message from its own goroutine, so order across
	// messages is not kept.
	ChannelCapabilities = Capabilities{
		Name:         "channel",
		SupportsAck:  true,
		SupportsNack: true,
		InProcess:    true,
	}

	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		SupportsOrdering: true,
		SupportsAck:      true,
		MaxMessageSize:   1048576,
	}

	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsPriority: true,
	}

	NATSCapabilities = Capabilities{
		Name:           "nats",
		MaxMessageSize: 1048576,
	}

	AWSCapabilities = Capabilities{
		Name:           "aws",
		SupportsAck:    true,
		SupportsNack:   true,
		MaxMessageSize: 262144,
	}

	HTTPCapabilities = Capabilities{
		Name:       "http",
		Brokerless: true,
	}

	GossipCapabilities = Capabilities{
		Name:           "gossip",
		Brokerless:     true,
		MaxMessageSize: 1 << 20,
	}

	ZMQCapabilities = Capabilities{
		Name:             "zmq",
		SupportsOrdering: true,
		Brokerless:       true,
	}
)

// GetCapabilities returns the capabilities for a transport by name.
// Returns a Capabilities value carrying only the name if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
