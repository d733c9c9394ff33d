// Package gossip provides a brokerless transport over libp2p gossipsub. Each
// uplink topic is a gossipsub topic; messages travel as JSON frames.
package gossip

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	mdns "github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/drblury/uplink/transport"
	"github.com/drblury/uplink/transport/frame"
)

// TransportName is the name used to register this transport.
const TransportName = "gossip"

// DefaultListenAddr is used when the config lists no listen address.
const DefaultListenAddr = "/ip4/0.0.0.0/tcp/0"

// ErrClosed is returned by operations on a closed PubSub.
var ErrClosed = errors.New("gossip: pubsub closed")

// HostFactory allows overriding the libp2p host creation for testing.
var HostFactory = func(opts ...libp2p.Option) (host.Host, error) {
	return libp2p.New(opts...)
}

// DiscoveryFactory allows overriding the mDNS service creation for testing.
var DiscoveryFactory = func(h host.Host, rendezvous string, notifee mdns.Notifee) mdns.Service {
	return mdns.NewMdnsService(h, rendezvous, notifee)
}

// Options configures a PubSub.
type Options struct {
	ListenAddrs []string
	Bootstrap   []string
	// Rendezvous enables mDNS discovery when set.
	Rendezvous string
	// OutputBuffer sizes each subscription channel.
	OutputBuffer int
}

func init() {
	Register()
}

// Register registers the gossip transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.GossipCapabilities)
}

// Build starts a libp2p host and joins gossipsub.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	ps, err := New(ctx, Options{
		ListenAddrs: cfg.GetGossipListenAddrs(),
		Bootstrap:   cfg.GetGossipBootstrapPeers(),
		Rendezvous:  cfg.GetGossipRendezvous(),
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
	return transport.GossipCapabilities
}

// PubSub is a Watermill publisher and subscriber backed by gossipsub.
type PubSub struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger watermill.LoggerAdapter
	buffer int

	host host.Host
	ps   *pubsub.PubSub
	// discovery is the mDNS service, nil without a rendezvous.
	discovery mdns.Service

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	closed bool
	wg     sync.WaitGroup
}

// New creates a libp2p host, joins gossipsub and dials the bootstrap peers.
// Unreachable bootstrap peers are logged, not fatal.
func New(parent context.Context, opts Options, logger watermill.LoggerAdapter) (*PubSub, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	raw := opts.ListenAddrs
	if len(raw) == 0 {
		raw = []string{DefaultListenAddr}
	}
	listen, err := parseAddrs(raw)
	if err != nil {
		return nil, err
	}

	h, err := HostFactory(libp2p.ListenAddrs(listen...))
	if err != nil {
		return nil, fmt.Errorf("create host: %w", err)
	}

	// The pubsub router lives until Close, not until the build context ends.
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		cancel()
		_ = h.Close()
		return nil, fmt.Errorf("create gossipsub: %w", err)
	}

	buffer := opts.OutputBuffer
	if buffer <= 0 {
		buffer = 64
	}
	p := &PubSub{
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With(watermill.LogFields{"peer_id": h.ID().String()}),
		buffer: buffer,
		host:   h,
		ps:     ps,
		topics: make(map[string]*pubsub.Topic),
	}

	if opts.Rendezvous != "" {
		service := DiscoveryFactory(h, opts.Rendezvous, &mdnsNotifee{host: h, logger: p.logger})
		if err := service.Start(); err != nil {
			p.logger.Error("mDNS discovery failed to start", err, nil)
		} else {
			p.discovery = service
		}
	}

	p.connectBootstrap(parent, opts.Bootstrap)
	p.logger.Info("Gossip host started", watermill.LogFields{"addrs": p.ListenAddrs()})
	return p, nil
}

func parseAddrs(raw []string) ([]ma.Multiaddr, error) {
	out := make([]ma.Multiaddr, 0, len(raw))
	for _, s := range raw {
		if s == "" {
			continue
		}
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid listen multiaddr %q: %w", s, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (p *PubSub) connectBootstrap(ctx context.Context, peers []string) {
	for _, raw := range peers {
		if raw == "" {
			continue
		}
		info, err := peer.AddrInfoFromString(raw)
		if err != nil {
			p.logger.Error("Skipping bootstrap address", err, watermill.LogFields{"addr": raw})
			continue
		}
		if err := p.host.Connect(ctx, *info); err != nil {
			p.logger.Error("Bootstrap connect failed", err, watermill.LogFields{"peer": info.ID.String()})
			continue
		}
		p.logger.Info("Connected bootstrap peer", watermill.LogFields{"peer": info.ID.String()})
	}
}

// Publish sends every message on topic.
func (p *PubSub) Publish(topic string, messages ...*message.Message) error {
	t, err := p.join(topic)
	if err != nil {
		return err
	}
	for _, msg := range messages {
		data, err := frame.Marshal(msg)
		if err != nil {
			return err
		}
		if err := t.Publish(p.ctx, data); err != nil {
			return fmt.Errorf("gossip publish %s: %w", topic, err)
		}
	}
	return nil
}

// Subscribe returns messages published on topic, including this host's own.
// The channel closes when ctx ends or the PubSub closes.
func (p *PubSub) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	t, err := p.join(topic)
	if err != nil {
		return nil, err
	}
	sub, err := t.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("gossip subscribe %s: %w", topic, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		sub.Cancel()
		return nil, ErrClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(p.ctx, cancel)

	out := make(chan *message.Message, p.buffer)
	go func() {
		defer p.wg.Done()
		defer close(out)
		defer stop()
		defer cancel()
		defer sub.Cancel()

		for {
			raw, err := sub.Next(subCtx)
			if err != nil {
				return
			}
			msg, err := frame.Unmarshal(raw.Data)
			if err != nil {
				p.logger.Error("Dropping undecodable gossip frame", err, watermill.LogFields{
					"topic": topic,
					"from":  raw.ReceivedFrom.String(),
				})
				continue
			}
			if !frame.Deliver(subCtx, out, msg) {
				return
			}
		}
	}()
	return out, nil
}

func (p *PubSub) join(name string) (*pubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if t, ok := p.topics[name]; ok {
		return t, nil
	}
	t, err := p.ps.Join(name)
	if err != nil {
		return nil, fmt.Errorf("gossip join %s: %w", name, err)
	}
	p.topics[name] = t
	return t, nil
}

// Close stops all subscriptions and shuts the host down.
func (p *PubSub) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	var errs []error
	if p.discovery != nil {
		errs = append(errs, p.discovery.Close())
	}
	for _, t := range p.topics {
		errs = append(errs, t.Close())
	}
	errs = append(errs, p.host.Close())
	return errors.Join(errs...)
}

// PeerID returns the libp2p identity of the host.
func (p *PubSub) PeerID() string {
	return p.host.ID().String()
}

// ListenAddrs returns dialable addresses including the /p2p/ peer suffix.
func (p *PubSub) ListenAddrs() []string {
	out := make([]string, 0, len(p.host.Addrs()))
	for _, addr := range p.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", addr, p.host.ID()))
	}
	return out
}

type mdnsNotifee struct {
	host   host.Host
	logger watermill.LoggerAdapter
}

func (n *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}
	if err := n.host.Connect(context.Background(), info); err != nil {
		n.logger.Error("mDNS connect failed", err, watermill.LogFields{"peer": info.ID.String()})
	}
}
