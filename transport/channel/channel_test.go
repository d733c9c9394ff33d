package channel

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/uplink/internal/runtime/config"
	"github.com/drblury/uplink/transport"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()

	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "channel", caps.Name)
	assert.False(t, caps.SupportsOrdering, "each publish is delivered from its own goroutine")
	assert.True(t, caps.InProcess)
	assert.Equal(t, transport.ChannelCapabilities, Capabilities())
}

func TestNodesOnSameBusExchangeMessages(t *testing.T) {
	cfg := &config.Config{PubSubSystem: TransportName, ChannelBus: t.Name()}

	a, err := Build(context.Background(), cfg, watermill.NopLogger{})
	require.NoError(t, err)
	b, err := Build(context.Background(), cfg, watermill.NopLogger{})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages, err := b.Subscriber.Subscribe(ctx, "up.1.1.8001")
	require.NoError(t, err)

	require.NoError(t, a.Publisher.Publish("up.1.1.8001", message.NewMessage("m1", []byte("hi"))))

	select {
	case msg := <-messages:
		assert.Equal(t, "m1", msg.UUID)
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("message not delivered across handles")
	}

	require.NoError(t, a.Close())
	require.NoError(t, a.Close(), "close is idempotent")

	busesMu.Lock()
	shared, ok := buses[t.Name()]
	busesMu.Unlock()
	require.True(t, ok, "bus stays open while another handle uses it")
	assert.Equal(t, 1, shared.refs)
}

func TestBusesAreIsolatedByName(t *testing.T) {
	left, err := Build(context.Background(), &config.Config{ChannelBus: t.Name() + "-left"}, watermill.NopLogger{})
	require.NoError(t, err)
	defer func() { _ = left.Close() }()
	right, err := Build(context.Background(), &config.Config{ChannelBus: t.Name() + "-right"}, watermill.NopLogger{})
	require.NoError(t, err)
	defer func() { _ = right.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages, err := right.Subscriber.Subscribe(ctx, "topic")
	require.NoError(t, err)

	require.NoError(t, left.Publisher.Publish("topic", message.NewMessage("m1", nil)))

	select {
	case <-messages:
		t.Fatal("message leaked between buses")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLastHandleClosesBus(t *testing.T) {
	originalFactory := Factory
	defer func() { Factory = originalFactory }()

	pub := &mockPublisher{}
	sub := &mockSubscriber{}
	var seen gochannel.Config
	Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
		seen = cfg
		return pub, sub
	}

	cfg := &config.Config{ChannelBus: t.Name(), ChannelBuffer: 32}
	first, err := Build(context.Background(), cfg, watermill.NopLogger{})
	require.NoError(t, err)
	second, err := Build(context.Background(), cfg, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Equal(t, int64(32), seen.OutputChannelBuffer)

	require.NoError(t, first.Close())
	assert.Zero(t, pub.closed)
	require.NoError(t, second.Close())
	assert.Equal(t, 1, pub.closed)
	assert.Equal(t, 1, sub.closed)

	busesMu.Lock()
	_, ok := buses[t.Name()]
	busesMu.Unlock()
	assert.False(t, ok)
}

func TestEmptyBusNameUsesDefault(t *testing.T) {
	tr, err := Build(context.Background(), &config.Config{}, watermill.NopLogger{})
	require.NoError(t, err)
	defer func() { _ = tr.Close() }()

	busesMu.Lock()
	_, ok := buses[DefaultBus]
	busesMu.Unlock()
	assert.True(t, ok)
}

type mockPublisher struct{ closed int }

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error                                             { m.closed++; return nil }

type mockSubscriber struct{ closed int }

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}
func (m *mockSubscriber) Close() error { m.closed++; return nil }
