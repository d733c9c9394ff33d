package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"

	"github.com/drblury/uplink/internal/runtime/config"
)

var _ Config = (*config.Config)(nil)

type testProvider struct{}

func (testProvider) Capabilities() Capabilities {
	return Capabilities{Name: "test"}
}

func TestCapabilitiesProvider_Interface(t *testing.T) {
	var provider CapabilitiesProvider = testProvider{}
	assert.Equal(t, "test", provider.Capabilities().Name)
}

type pubSub struct {
	mockPublisher
}

func (p *pubSub) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return nil, nil
}

func TestTransportCloseSharedObjectOnce(t *testing.T) {
	shared := &pubSub{}
	tr := Transport{Publisher: shared, Subscriber: shared}
	assert.NoError(t, tr.Close())
	assert.Equal(t, 1, shared.closed)
}

func TestTransportCloseBothSides(t *testing.T) {
	pub := &mockPublisher{}
	sub := &mockSubscriber{}
	assert.NoError(t, Transport{Publisher: pub, Subscriber: sub}.Close())
	assert.Equal(t, 1, pub.closed)
	assert.Equal(t, 1, sub.closed)
}

type failingCloser struct{ mockSubscriber }

func (f *failingCloser) Close() error { return errors.New("socket busy") }

func TestTransportCloseJoinsErrors(t *testing.T) {
	err := Transport{Publisher: &mockPublisher{}, Subscriber: &failingCloser{}}.Close()
	assert.EqualError(t, err, "socket busy")
	assert.NoError(t, Transport{}.Close())
}
