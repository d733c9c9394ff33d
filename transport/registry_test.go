package transport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/uplink/internal/runtime/config"
	errspkg "github.com/drblury/uplink/internal/runtime/errors"
)

type mockPublisher struct {
	closed int
}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error {
	return nil
}

func (m *mockPublisher) Close() error {
	m.closed++
	return nil
}

type mockSubscriber struct {
	closed int
}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (m *mockSubscriber) Close() error {
	m.closed++
	return nil
}

func okBuilder(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return Transport{
		Publisher:  &mockPublisher{},
		Subscriber: &mockSubscriber{},
	}, nil
}

func cfgFor(name string) *config.Config {
	return &config.Config{PubSubSystem: name}
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.NotNil(t, reg.builders)
	assert.NotNil(t, reg.capabilities)
	assert.Empty(t, reg.Names())
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()
	reg.Register("test-transport", okBuilder)
	assert.True(t, reg.Has("test-transport"))
	assert.False(t, reg.Has("other-transport"))
	assert.Contains(t, reg.Names(), "test-transport")
}

func TestRegistry_RegisterWithCapabilities(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterWithCapabilities("test-transport", okBuilder, Capabilities{
		Name:       "test-transport",
		Brokerless: true,
	})

	caps := reg.GetCapabilities("test-transport")
	assert.Equal(t, "test-transport", caps.Name)
	assert.True(t, caps.Brokerless)
}

func TestRegistry_GetCapabilities_Unknown(t *testing.T) {
	caps := NewRegistry().GetCapabilities("unknown")
	assert.Equal(t, Capabilities{Name: "unknown"}, caps)
}

func TestRegistry_Build(t *testing.T) {
	reg := NewRegistry()
	reg.Register("test-transport", okBuilder)

	tr, err := reg.Build(context.Background(), cfgFor("test-transport"), nil)
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Subscriber)
}

func TestRegistry_NamesIgnoreCase(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterWithCapabilities("ZMQ", okBuilder, Capabilities{Name: "zmq", Brokerless: true})

	assert.True(t, reg.Has("zmq"))
	assert.True(t, reg.GetCapabilities(" Zmq ").Brokerless)
	_, err := reg.Build(context.Background(), cfgFor("Zmq"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"zmq"}, reg.Names())
}

func TestRegistry_Build_Failures(t *testing.T) {
	reg := NewRegistry()
	builderErr := errors.New("dial refused")
	reg.Register("failing", func(context.Context, Config, watermill.LoggerAdapter) (Transport, error) {
		return Transport{}, builderErr
	})
	pub := &mockPublisher{}
	reg.Register("half", func(context.Context, Config, watermill.LoggerAdapter) (Transport, error) {
		return Transport{Publisher: pub}, nil
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := reg.Build(context.Background(), nil, nil)
		assert.ErrorIs(t, err, errspkg.ErrTransportUnavailable)
		assert.ErrorIs(t, err, errspkg.ErrConfigRequired)
	})

	t.Run("unknown transport", func(t *testing.T) {
		_, err := reg.Build(context.Background(), cfgFor("carrier-pigeon"), nil)
		assert.ErrorIs(t, err, errspkg.ErrTransportUnavailable)
		assert.Contains(t, err.Error(), `unknown transport "carrier-pigeon"`)
		assert.Contains(t, err.Error(), "failing")
	})

	t.Run("builder error", func(t *testing.T) {
		_, err := reg.Build(context.Background(), cfgFor("failing"), nil)
		assert.ErrorIs(t, err, errspkg.ErrTransportUnavailable)
		assert.ErrorIs(t, err, builderErr)
	})

	t.Run("incomplete transport is closed", func(t *testing.T) {
		_, err := reg.Build(context.Background(), cfgFor("half"), nil)
		assert.ErrorIs(t, err, errspkg.ErrTransportUnavailable)
		assert.Equal(t, 1, pub.closed)
	})
}

func TestRegistry_NamesSorted(t *testing.T) {
	reg := NewRegistry()
	reg.Register("zmq", okBuilder)
	reg.Register("channel", okBuilder)
	reg.Register("gossip", okBuilder)
	assert.Equal(t, []string{"channel", "gossip", "zmq"}, reg.Names())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				reg.Register("transport", okBuilder)
				reg.Has("transport")
				reg.Names()
				reg.GetCapabilities("transport")
			}
		}()
	}
	wg.Wait()

	assert.True(t, reg.Has("transport"))
}

func TestPackageLevelRegistry(t *testing.T) {
	RegisterWithCapabilities("test-pkg-caps-transport", okBuilder, Capabilities{
		Name:             "test-pkg-caps-transport",
		SupportsPriority: true,
	})
	Register("test-pkg-transport", okBuilder)

	assert.True(t, DefaultRegistry.Has("test-pkg-transport"))
	assert.True(t, GetCapabilities("test-pkg-caps-transport").SupportsPriority)

	tr, err := Build(context.Background(), cfgFor("test-pkg-transport"), watermill.NopLogger{})
	require.NoError(t, err)
	assert.NoError(t, tr.Close())

	_, err = Build(context.Background(), cfgFor("nonexistent"), nil)
	assert.Error(t, err)
}
