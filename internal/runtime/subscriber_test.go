package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/uplink/internal/runtime/envelope"
	errspkg "github.com/drblury/uplink/internal/runtime/errors"
	"github.com/drblury/uplink/internal/runtime/payload"
	"github.com/drblury/uplink/internal/runtime/status"
	transportpkg "github.com/drblury/uplink/internal/runtime/transport"
	"github.com/drblury/uplink/transport"
	"github.com/drblury/uplink/transport/transporttest"
)

func TestSubscribeReceivesTypedValuesAcrossNodes(t *testing.T) {
	cfg := testConfig(t, serverSource)
	publisherNode := newTestNode(t, cfg, NodeDependencies{})
	subscriberNode := newTestNode(t, testConfig(t, clientSource), NodeDependencies{})

	received := make(chan time.Time, 1)
	_, err := SubscribeTyped(context.Background(), subscriberNode, timeTopic, payload.TimeCodec{},
		func(_ context.Context, msg *envelope.Message, v time.Time) error {
			assert.Equal(t, timeTopic, msg.Source)
			received <- v
			return nil
		})
	require.NoError(t, err)

	p, err := publisherNode.NewPublisher(timeTopic)
	require.NoError(t, err)
	sent := time.UnixMilli(1_712_345_678_901)
	require.NoError(t, PublishValue(context.Background(), p, payload.TimeCodec{}, sent))

	select {
	case got := <-received:
		assert.Equal(t, sent.UnixMilli(), got.UnixMilli())
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not receive the time value")
	}
	waitFor(t, func() bool { return receivedCount(subscriberNode, timeTopic.Topic(), ResultOK) == 1 })
}

func TestSubscribeReceivesEveryMessage(t *testing.T) {
	n := newTestNode(t, testConfig(t, serverSource), NodeDependencies{})

	var mu sync.Mutex
	var got []uint8
	_, err := SubscribeTyped(context.Background(), n, counterTopic, payload.CounterCodec{},
		func(_ context.Context, _ *envelope.Message, v uint8) error {
			mu.Lock()
			got = append(got, v)
			mu.Unlock()
			return nil
		})
	require.NoError(t, err)

	p, err := n.NewPublisher(counterTopic)
	require.NoError(t, err)
	var counter payload.Counter
	for i := 0; i < 300; i++ {
		require.NoError(t, PublishValue(context.Background(), p, payload.CounterCodec{}, counter.Next()))
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 300
	})
	// The in-memory bus does not promise ordering; check the multiset.
	seen := make(map[uint8]int)
	for _, v := range got {
		seen[v]++
	}
	for v := 0; v < 256; v++ {
		want := 1
		if v <= 43 {
			want = 2
		}
		assert.Equal(t, want, seen[uint8(v)], "value %d", v)
	}
}

func TestSubscribeDropsUndecodablePayloads(t *testing.T) {
	n := newTestNode(t, testConfig(t, serverSource), NodeDependencies{})

	called := make(chan struct{}, 1)
	_, err := SubscribeTyped(context.Background(), n, timeTopic, payload.TimeCodec{},
		func(context.Context, *envelope.Message, time.Time) error {
			called <- struct{}{}
			return nil
		})
	require.NoError(t, err)

	p, err := n.NewPublisher(timeTopic)
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), payload.Payload{Format: payload.FormatRaw, Data: []byte{1, 2, 3}}))

	waitFor(t, func() bool { return receivedCount(n, timeTopic.Topic(), ResultDropped) == 1 })
	select {
	case <-called:
		t.Fatal("handler called with truncated payload")
	default:
	}
}

func TestSubscribeSurvivesHandlerErrorsAndPanics(t *testing.T) {
	n := newTestNode(t, testConfig(t, serverSource), NodeDependencies{})

	var mu sync.Mutex
	calls := 0
	_, err := n.Subscribe(context.Background(), timeTopic, func(context.Context, *envelope.Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		switch calls {
		case 1:
			return errors.New("handler failed")
		case 2:
			panic("handler exploded")
		}
		return nil
	})
	require.NoError(t, err)

	p, err := n.NewPublisher(timeTopic)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Publish(context.Background(), textPayload("x")))
	}

	waitFor(t, func() bool { return receivedCount(n, timeTopic.Topic(), ResultOK) == 1 })
	assert.Equal(t, 2.0, receivedCount(n, timeTopic.Topic(), ResultFailed))
	mu.Lock()
	assert.Equal(t, 3, calls, "failed messages are not redelivered")
	mu.Unlock()
}

func TestSubscribeSurvivesPanicWithoutDefaultMiddlewares(t *testing.T) {
	n := newTestNode(t, testConfig(t, serverSource), NodeDependencies{DisableDefaultMiddlewares: true})

	var mu sync.Mutex
	calls := 0
	_, err := n.Subscribe(context.Background(), timeTopic, func(context.Context, *envelope.Message) error {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			panic("handler exploded")
		}
		return nil
	})
	require.NoError(t, err)

	p, err := n.NewPublisher(timeTopic)
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), textPayload("boom")))
	waitFor(t, func() bool { return receivedCount(n, timeTopic.Topic(), ResultFailed) == 1 })

	require.NoError(t, p.Publish(context.Background(), textPayload("ok")))
	waitFor(t, func() bool { return receivedCount(n, timeTopic.Topic(), ResultOK) == 1 })
}

func TestSubscribeConcurrentWithClose(t *testing.T) {
	for i := 0; i < 100; i++ {
		n := newTestNode(t, testConfig(t, serverSource), NodeDependencies{})

		var wg sync.WaitGroup
		var sub *Subscription
		var subErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub, subErr = n.Subscribe(context.Background(), timeTopic, func(context.Context, *envelope.Message) error { return nil })
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, n.Close())
		}()
		wg.Wait()

		if subErr != nil {
			require.ErrorIs(t, subErr, errspkg.ErrNodeClosed)
			continue
		}
		// Close waited for the dispatcher, so it has already stopped.
		select {
		case <-sub.Done():
		default:
			t.Fatalf("iteration %d: subscription outlived Close", i)
		}
	}
}

func TestSubscribeDropsMalformedAndForeignMessages(t *testing.T) {
	n := newTestNode(t, testConfig(t, serverSource), NodeDependencies{})
	_, err := n.Subscribe(context.Background(), timeTopic, func(context.Context, *envelope.Message) error {
		t.Error("handler must not be called")
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, n.publisher.Publish(timeTopic.Topic(), message.NewMessage("raw", []byte("no metadata"))))

	req := envelope.NewRequest(clientSource, timeMethod, textPayload("x"), time.Second)
	wm := envelope.ToWatermill(req)
	require.NoError(t, n.publisher.Publish(timeTopic.Topic(), wm))

	waitFor(t, func() bool { return receivedCount(n, timeTopic.Topic(), ResultDropped) == 2 })
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	n := newTestNode(t, testConfig(t, serverSource), NodeDependencies{})

	received := make(chan struct{}, 10)
	sub, err := n.Subscribe(context.Background(), timeTopic, func(context.Context, *envelope.Message) error {
		received <- struct{}{}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, timeTopic.Topic(), sub.Topic())

	sub.Unsubscribe()
	sub.Unsubscribe()
	<-sub.Done()

	p, err := n.NewPublisher(timeTopic)
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), textPayload("x")))

	select {
	case <-received:
		t.Fatal("message delivered after Unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	n := newTestNode(t, testConfig(t, serverSource), NodeDependencies{})
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := n.Subscribe(ctx, timeTopic, func(context.Context, *envelope.Message) error { return nil })
	require.NoError(t, err)

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not end with its context")
	}
}

func TestSubscribeValidation(t *testing.T) {
	n := newTestNode(t, testConfig(t, serverSource), NodeDependencies{})

	_, err := n.Subscribe(context.Background(), timeMethod, func(context.Context, *envelope.Message) error { return nil })
	assert.Equal(t, status.InvalidArgument, status.CodeOf(err))

	_, err = n.Subscribe(context.Background(), timeTopic, nil)
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)

	_, err = SubscribeTyped[time.Time](context.Background(), nil, timeTopic, payload.TimeCodec{}, nil)
	assert.ErrorIs(t, err, errspkg.ErrNodeRequired)
}

func TestSubscribeTransportFailure(t *testing.T) {
	n := newTestNode(t, testConfig(t, serverSource), NodeDependencies{
		TransportFactory: transportpkg.Static(transport.Transport{
			Publisher:  &transporttest.Publisher{},
			Subscriber: &transporttest.Subscriber{Err: errors.New("no route")},
		}),
	})

	_, err := n.Subscribe(context.Background(), timeTopic, func(context.Context, *envelope.Message) error { return nil })
	assert.ErrorIs(t, err, errspkg.ErrTransportUnavailable)
	assert.ErrorContains(t, err, "no route")
}
