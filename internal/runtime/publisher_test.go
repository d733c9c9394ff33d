package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/uplink/internal/runtime/envelope"
	errspkg "github.com/drblury/uplink/internal/runtime/errors"
	"github.com/drblury/uplink/internal/runtime/payload"
	"github.com/drblury/uplink/internal/runtime/status"
	"github.com/drblury/uplink/internal/runtime/uri"
)

func TestNewPublisherValidatesTopicRole(t *testing.T) {
	n, _ := newRecordingNode(t, serverSource)

	tests := []struct {
		name  string
		topic uri.Identity
		ok    bool
	}{
		{"publish topic", timeTopic, true},
		{"method", timeMethod, false},
		{"reply", serverSource, false},
		{"zero entity", uri.New(0, 1, 0x8001), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.NewPublisher(tt.topic)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, status.InvalidArgument, status.CodeOf(err))
		})
	}

	_, err := n.NewPublisher(timeTopic, WithInterval(-time.Second))
	assert.Equal(t, status.InvalidArgument, status.CodeOf(err))
}

func TestPublisherDefaultsAndOptions(t *testing.T) {
	n, _ := newRecordingNode(t, serverSource)

	p, err := n.NewPublisher(timeTopic)
	require.NoError(t, err)
	assert.Equal(t, envelope.CS1, p.Priority())
	assert.Zero(t, p.Interval())
	assert.Equal(t, timeTopic, p.Topic())

	p, err = n.NewPublisher(timeTopic, WithPriority(envelope.CS5), WithInterval(25*time.Millisecond), WithTTL(time.Second))
	require.NoError(t, err)
	assert.Equal(t, envelope.CS5, p.Priority())
	assert.Equal(t, 25*time.Millisecond, p.Interval())
}

func TestPublishWritesEnvelopeMetadata(t *testing.T) {
	n, rec := newRecordingNode(t, serverSource)
	p, err := n.NewPublisher(timeTopic, WithPriority(envelope.CS5), WithTTL(500*time.Millisecond))
	require.NoError(t, err)

	now := time.UnixMilli(1_700_000_000_123)
	require.NoError(t, PublishValue(context.Background(), p, payload.TimeCodec{}, now))

	msgs := rec.Messages(timeTopic.Topic())
	require.Len(t, msgs, 1)
	env, err := envelope.FromWatermill(msgs[0])
	require.NoError(t, err)
	assert.Equal(t, envelope.TypePublish, env.Type)
	assert.Equal(t, timeTopic, env.Source)
	assert.Equal(t, envelope.CS5, env.Priority)
	assert.Equal(t, 500*time.Millisecond, env.TTL)

	got, err := payload.TimeCodec{}.Decode(env.Payload)
	require.NoError(t, err)
	assert.Equal(t, now.UnixMilli(), got.UnixMilli())
	assert.Equal(t, 1.0, publishedCount(n, timeTopic.Topic(), ResultOK))
}

func TestPublishFailureWrapsSendFailure(t *testing.T) {
	n, rec := newRecordingNode(t, serverSource)
	rec.Err = errors.New("link down")

	p, err := n.NewPublisher(timeTopic)
	require.NoError(t, err)

	err = p.Publish(context.Background(), textPayload("x"))
	assert.ErrorIs(t, err, errspkg.ErrSendFailure)
	assert.ErrorContains(t, err, "link down")
	assert.Equal(t, 1.0, publishedCount(n, timeTopic.Topic(), ResultFailed))
}

func TestPublishValueRequiresEncoder(t *testing.T) {
	n, _ := newRecordingNode(t, serverSource)
	p, err := n.NewPublisher(timeTopic)
	require.NoError(t, err)
	assert.ErrorIs(t, PublishValue[string](context.Background(), p, nil, "x"), errspkg.ErrEncoderRequired)
}

func TestSendRejectsInvalidMessages(t *testing.T) {
	n, rec := newRecordingNode(t, serverSource)

	assert.Equal(t, status.InvalidArgument, status.CodeOf(n.Send(context.Background(), nil)))

	msg := envelope.NewPublish(timeMethod, textPayload("x"))
	assert.Equal(t, status.InvalidArgument, status.CodeOf(n.Send(context.Background(), msg)))
	assert.Empty(t, rec.Messages(timeMethod.Topic()))
}
