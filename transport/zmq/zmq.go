// Package zmq provides a brokerless transport over ZeroMQ PUB/SUB sockets.
// A node publishes on its listen endpoint and subscribes to the endpoints it
// dials; each message is sent as two frames: topic, then a JSON frame.
package zmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-zeromq/zmq4"

	"github.com/drblury/uplink/transport"
	"github.com/drblury/uplink/transport/frame"
)

// TransportName is the name used to register this transport.
const TransportName = "zmq"

// DialRetry is the interval between attempts to reach a peer endpoint.
var DialRetry = 250 * time.Millisecond

var (
	// ErrClosed is returned by operations on a closed PubSub.
	ErrClosed = errors.New("zmq: pubsub closed")
	// ErrNoListener is returned by Publish when no listen endpoint is configured.
	ErrNoListener = errors.New("zmq: no listen endpoint configured")
	// ErrNoPeers is returned by Subscribe when no peer endpoint is configured.
	ErrNoPeers = errors.New("zmq: no peer endpoints configured")
)

// Options configures a PubSub.
type Options struct {
	Listen       string
	Peers        []string
	OutputBuffer int
}

func init() {
	Register()
}

// Register registers the zmq transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ZMQCapabilities)
}

// Build opens the PUB and SUB sockets described by the config.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	ps, err := New(ctx, Options{
		Listen: cfg.GetZMQListen(),
		Peers:  cfg.GetZMQPeers(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{
		Publisher:  ps,
		Subscriber: ps,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ZMQCapabilities
}

type subscription struct {
	ctx context.Context
	in  chan []byte
}

// PubSub is a Watermill publisher and subscriber backed by ZeroMQ.
type PubSub struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger watermill.LoggerAdapter
	buffer int

	pubMu sync.Mutex
	pub   zmq4.Socket
	sub   zmq4.Socket

	mu     sync.Mutex
	subs   map[string][]*subscription
	closed bool
	wg     sync.WaitGroup
}

// New binds the PUB socket and dials every peer. At least one of listen or
// peers must be set.
func New(parent context.Context, opts Options, logger watermill.LoggerAdapter) (*PubSub, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	if opts.Listen == "" && len(opts.Peers) == 0 {
		return nil, errors.New("zmq requires a listen endpoint or at least one peer")
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	buffer := opts.OutputBuffer
	if buffer <= 0 {
		buffer = 64
	}
	p := &PubSub{
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
		buffer: buffer,
		subs:   make(map[string][]*subscription),
	}

	if opts.Listen != "" {
		pub := zmq4.NewPub(ctx)
		if err := pub.Listen(opts.Listen); err != nil {
			cancel()
			_ = pub.Close()
			return nil, fmt.Errorf("zmq listen %s: %w", opts.Listen, err)
		}
		p.pub = pub
		logger.Info("ZeroMQ publisher listening", watermill.LogFields{"endpoint": opts.Listen})
	}

	if len(opts.Peers) > 0 {
		sub := zmq4.NewSub(ctx, zmq4.WithDialerRetry(DialRetry))
		for _, peer := range opts.Peers {
			if err := sub.Dial(peer); err != nil {
				_ = p.Close()
				_ = sub.Close()
				return nil, fmt.Errorf("zmq dial %s: %w", peer, err)
			}
			logger.Info("ZeroMQ subscriber connected", watermill.LogFields{"endpoint": peer})
		}
		p.sub = sub
		p.wg.Add(1)
		go p.receive()
	}

	return p, nil
}

// Publish sends every message on topic to all connected subscribers.
func (p *PubSub) Publish(topic string, messages ...*message.Message) error {
	if p.isClosed() {
		return ErrClosed
	}
	if p.pub == nil {
		return ErrNoListener
	}
	for _, msg := range messages {
		data, err := frame.Marshal(msg)
		if err != nil {
			return err
		}
		p.pubMu.Lock()
		err = p.pub.Send(zmq4.NewMsgFrom([]byte(topic), data))
		p.pubMu.Unlock()
		if err != nil {
			return fmt.Errorf("zmq publish %s: %w", topic, err)
		}
	}
	return nil
}

// Subscribe returns messages received on topic from the dialed peers. The
// channel closes when ctx ends or the PubSub closes.
func (p *PubSub) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if p.sub == nil {
		return nil, ErrNoPeers
	}

	subCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(p.ctx, cancel)
	s := &subscription{ctx: subCtx, in: make(chan []byte, p.buffer)}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		stop()
		cancel()
		return nil, ErrClosed
	}
	if len(p.subs[topic]) == 0 {
		if err := p.sub.SetOption(zmq4.OptionSubscribe, topic); err != nil {
			p.mu.Unlock()
			stop()
			cancel()
			return nil, fmt.Errorf("zmq subscribe %s: %w", topic, err)
		}
	}
	p.subs[topic] = append(p.subs[topic], s)
	p.wg.Add(1)
	p.mu.Unlock()

	out := make(chan *message.Message, p.buffer)
	go func() {
		defer p.wg.Done()
		defer close(out)
		defer p.remove(topic, s)
		defer stop()
		defer cancel()

		for {
			select {
			case <-subCtx.Done():
				return
			case data := <-s.in:
				msg, err := frame.Unmarshal(data)
				if err != nil {
					p.logger.Error("Dropping undecodable ZeroMQ frame", err, watermill.LogFields{"topic": topic})
					continue
				}
				if !frame.Deliver(subCtx, out, msg) {
					return
				}
			}
		}
	}()
	return out, nil
}

func (p *PubSub) remove(topic string, s *subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	subs := p.subs[topic]
	for i, candidate := range subs {
		if candidate == s {
			p.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(p.subs[topic]) == 0 {
		delete(p.subs, topic)
		if !p.closed {
			_ = p.sub.SetOption(zmq4.OptionUnsubscribe, topic)
		}
	}
}

func (p *PubSub) receive() {
	defer p.wg.Done()
	for {
		msg, err := p.sub.Recv()
		if err != nil {
			if p.ctx.Err() == nil {
				p.logger.Error("ZeroMQ receive failed", err, nil)
			}
			return
		}
		if len(msg.Frames) != 2 {
			continue
		}
		p.dispatch(string(msg.Frames[0]), msg.Frames[1])
	}
}

// dispatch hands a frame to every subscription on exactly this topic. SUB
// filtering is by prefix, so "a.b" also receives "a.bc".
func (p *PubSub) dispatch(topic string, data []byte) {
	p.mu.Lock()
	targets := append([]*subscription(nil), p.subs[topic]...)
	p.mu.Unlock()

	for _, s := range targets {
		select {
		case s.in <- data:
		case <-s.ctx.Done():
		}
	}
}

// Close shuts both sockets and closes every subscription channel.
func (p *PubSub) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()

	var errs []error
	if p.sub != nil {
		errs = append(errs, p.sub.Close())
	}
	p.wg.Wait()
	if p.pub != nil {
		p.pubMu.Lock()
		errs = append(errs, p.pub.Close())
		p.pubMu.Unlock()
	}

	return errors.Join(errs...)
}

func (p *PubSub) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
