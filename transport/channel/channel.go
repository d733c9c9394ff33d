// Package channel provides an in-memory Go channel transport. Nodes built in
// the same process with the same bus name exchange messages with each other.
//
// The bus does not block publishers: every message is handed to subscribers
// from its own goroutine, so messages on one topic may arrive in a different
// order than they were published. Use a broker transport when order matters.
package channel

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/uplink/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// DefaultBus is used when the config names no bus.
const DefaultBus = "default"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

var (
	busesMu sync.Mutex
	buses   = map[string]*bus{}
)

// bus is a reference counted pub/sub shared by every node on the same name.
// The underlying channel closes with its last user.
type bus struct {
	name string
	pub  message.Publisher
	sub  message.Subscriber
	refs int
}

func init() {
	Register()
}

// Register registers the channel transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build attaches to the bus named by the config, creating it on first use.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	name := cfg.GetChannelBus()
	if name == "" {
		name = DefaultBus
	}

	busesMu.Lock()
	defer busesMu.Unlock()

	b, ok := buses[name]
	if !ok {
		pub, sub := Factory(gochannel.Config{
			OutputChannelBuffer: cfg.GetChannelBuffer(),
		}, logger)
		b = &bus{name: name, pub: pub, sub: sub}
		buses[name] = b
	}
	b.refs++

	h := &handle{bus: b}
	return transport.Transport{
		Publisher:  h,
		Subscriber: h,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}

// handle is one node's view of a bus.
type handle struct {
	bus    *bus
	closed sync.Once
}

func (h *handle) Publish(topic string, messages ...*message.Message) error {
	return h.bus.pub.Publish(topic, messages...)
}

func (h *handle) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return h.bus.sub.Subscribe(ctx, topic)
}

// Close releases the handle. The bus closes when its last handle does.
func (h *handle) Close() error {
	var err error
	h.closed.Do(func() {
		busesMu.Lock()
		defer busesMu.Unlock()

		h.bus.refs--
		if h.bus.refs > 0 {
			return
		}
		delete(buses, h.bus.name)
		err = transport.Transport{Publisher: h.bus.pub, Subscriber: h.bus.sub}.Close()
	})
	return err
}
