// Package samples wires the demo programs behind the uplink CLI: a node
// publishing time, random and counter topics, a subscriber logging them, and
// a time service answering RPC calls.
package samples

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	runtimepkg "github.com/drblury/uplink/internal/runtime"
	"github.com/drblury/uplink/internal/runtime/envelope"
	errspkg "github.com/drblury/uplink/internal/runtime/errors"
	loggingpkg "github.com/drblury/uplink/internal/runtime/logging"
	"github.com/drblury/uplink/internal/runtime/payload"
	"github.com/drblury/uplink/internal/runtime/uri"
)

var (
	TimeServer    = uri.New(1, 1, 0)
	TimeMethod    = uri.New(1, 1, 1)
	TimeClient    = uri.New(2, 1, 0)
	PublisherNode = uri.New(0x10001, 1, 0)

	TimeTopic    = PublisherNode.WithResource(0x8001)
	RandomTopic  = PublisherNode.WithResource(0x8002)
	CounterTopic = PublisherNode.WithResource(0x8003)
)

const (
	TimeInterval   = 25 * time.Millisecond
	RandomInterval = 250 * time.Millisecond

	// TimeRequestTTL bounds each time request.
	TimeRequestTTL = 20 * time.Millisecond
	// RequestPeriod is the pause between two time requests.
	RequestPeriod = time.Second
)

// PublishOptions tunes the publish sample.
type PublishOptions struct {
	// WithNullPublisher also schedules the CS3 publisher on the counter topic.
	WithNullPublisher bool
	Now               func() time.Time
	Random            func() uint64
}

func (o PublishOptions) withDefaults() PublishOptions {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Random == nil {
		o.Random = rand.Uint64
	}
	return o
}

// NewPublishScheduler builds the scheduler driving the sample topics.
func NewPublishScheduler(n *runtimepkg.Node, opts PublishOptions, schedOpts ...runtimepkg.SchedulerOption) (*runtimepkg.Scheduler, error) {
	opts = opts.withDefaults()

	timePub, err := n.NewPublisher(TimeTopic,
		runtimepkg.WithInterval(TimeInterval),
		runtimepkg.WithPriority(envelope.CS5))
	if err != nil {
		return nil, err
	}
	randPub, err := n.NewPublisher(RandomTopic, runtimepkg.WithInterval(RandomInterval))
	if err != nil {
		return nil, err
	}
	countPub, err := n.NewPublisher(CounterTopic)
	if err != nil {
		return nil, err
	}
	nullPub, err := n.NewPublisher(CounterTopic, runtimepkg.WithPriority(envelope.CS3))
	if err != nil {
		return nil, err
	}

	counter := &payload.Counter{}
	jobs := []runtimepkg.PublishJob{
		{Name: "time", Publisher: timePub, Encode: runtimepkg.EncodeWith[time.Time](payload.TimeCodec{}, opts.Now)},
		{Name: "random", Publisher: randPub, Encode: runtimepkg.EncodeWith[uint64](payload.FixedWidth[uint64]{}, opts.Random)},
		{Name: "counter", Publisher: countPub, Encode: runtimepkg.EncodeWith[uint8](payload.CounterCodec{}, counter.Next)},
	}
	if opts.WithNullPublisher {
		nullCounter := &payload.Counter{}
		jobs = append(jobs, runtimepkg.PublishJob{
			Name:      "null",
			Publisher: nullPub,
			Encode:    runtimepkg.EncodeWith[uint8](payload.CounterCodec{}, nullCounter.Next),
		})
	}

	sched := n.NewScheduler(schedOpts...)
	for _, job := range jobs {
		if err := sched.Add(job); err != nil {
			return nil, fmt.Errorf("add %s job: %w", job.Name, err)
		}
	}
	return sched, nil
}

// RunPublisher publishes the sample topics until ctx is done.
func RunPublisher(ctx context.Context, n *runtimepkg.Node, opts PublishOptions) error {
	sched, err := NewPublishScheduler(n, opts)
	if err != nil {
		return err
	}
	n.Logger.Info("Publishing sample topics", loggingpkg.LogFields{
		"jobs":        len(sched.Jobs()),
		"null_queued": opts.WithNullPublisher,
	})
	return sched.Run(ctx)
}

// Subscribe logs every value received on the sample topics. The returned
// subscriptions end with ctx.
func Subscribe(ctx context.Context, n *runtimepkg.Node, logger loggingpkg.ServiceLogger) ([]*runtimepkg.Subscription, error) {
	if logger == nil {
		logger = n.Logger
	}
	receivers := []struct {
		topic   uri.Identity
		handler runtimepkg.MessageHandler
	}{
		{TimeTopic, receive[int64](logger, "time")},
		{RandomTopic, receive[uint64](logger, "random")},
		{CounterTopic, receive[uint8](logger, "counter")},
	}

	subs := make([]*runtimepkg.Subscription, 0, len(receivers))
	for _, r := range receivers {
		sub, err := n.Subscribe(ctx, r.topic, r.handler)
		if err != nil {
			for _, s := range subs {
				s.Unsubscribe()
			}
			return nil, fmt.Errorf("subscribe %s: %w", r.topic, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// receive decodes a fixed-width value and logs it as "<name> = <value>".
// Short payloads are logged and skipped.
func receive[T payload.Fixed](logger loggingpkg.ServiceLogger, name string) runtimepkg.MessageHandler {
	codec := payload.FixedWidth[T]{}
	return func(_ context.Context, msg *envelope.Message) error {
		value, err := codec.Decode(msg.Payload)
		switch {
		case errors.Is(err, errspkg.ErrTruncated):
			logger.Error("Payload too small", err, loggingpkg.LogFields{
				"name": name,
				"size": msg.Payload.Len(),
			})
			return nil
		case err != nil:
			logger.Error("Undecodable payload", err, loggingpkg.LogFields{
				"name":   name,
				"format": msg.Payload.Format.String(),
			})
			return nil
		}
		logger.Info(fmt.Sprintf("%s = %v", name, value), loggingpkg.LogFields{
			"topic":      msg.Source.String(),
			"message_id": msg.ID,
		})
		return nil
	}
}

// ServeTime answers TimeMethod with the current time in milliseconds.
func ServeTime(ctx context.Context, n *runtimepkg.Node, now func() time.Time) (*runtimepkg.Subscription, error) {
	if now == nil {
		now = time.Now
	}
	return n.Bind(ctx, TimeMethod, func(context.Context, *envelope.Message) (payload.Payload, error) {
		return payload.TimeCodec{}.Encode(now())
	})
}

// ClientOptions tunes the time client loop.
type ClientOptions struct {
	Period time.Duration
	TTL    time.Duration
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.Period <= 0 {
		o.Period = RequestPeriod
	}
	if o.TTL <= 0 {
		o.TTL = TimeRequestTTL
	}
	return o
}

// RequestTime performs one time call.
func RequestTime(ctx context.Context, client *runtimepkg.RPCClient, ttl time.Duration) (time.Time, runtimepkg.Result) {
	res := client.Invoke(ctx, TimeMethod, payload.Payload{}, ttl)
	if !res.OK() {
		return time.Time{}, res
	}
	t, err := runtimepkg.Decode[time.Time](res, payload.TimeCodec{})
	if err != nil {
		res.Err = err
	}
	return t, res
}

// RunTimeClient requests the time once per period until ctx is done. Each
// outcome is logged; failures never stop the loop.
func RunTimeClient(ctx context.Context, n *runtimepkg.Node, opts ClientOptions) error {
	opts = opts.withDefaults()
	client, err := n.NewRPCClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	ticker := time.NewTicker(opts.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		t, res := RequestTime(ctx, client, opts.TTL)
		fields := loggingpkg.LogFields{"elapsed": res.Elapsed.String(), "outcome": res.Kind.String()}
		switch {
		case res.Kind == runtimepkg.ResultCancelled:
			return nil
		case res.Kind == runtimepkg.ResultTimeout:
			n.Logger.Error("Timeout waiting for time response", res.Err, fields)
		case res.Err != nil:
			n.Logger.Error("Time request failed", res.Err, fields)
		default:
			n.Logger.Info(fmt.Sprintf("Received time = %d", t.UnixMilli()), fields)
		}
	}
}
