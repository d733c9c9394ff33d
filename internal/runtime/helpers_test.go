package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/uplink/internal/runtime/config"
	loggingpkg "github.com/drblury/uplink/internal/runtime/logging"
	"github.com/drblury/uplink/internal/runtime/payload"
	transportpkg "github.com/drblury/uplink/internal/runtime/transport"
	"github.com/drblury/uplink/internal/runtime/uri"
	"github.com/drblury/uplink/transport"
	"github.com/drblury/uplink/transport/transporttest"
)

var (
	serverSource = uri.MustParse("/1/1/0")
	timeMethod   = uri.MustParse("/1/1/1")
	clientSource = uri.MustParse("/2/1/0")
	timeTopic    = uri.MustParse("/10001/1/8001")
	randomTopic  = uri.MustParse("/10001/1/8002")
	counterTopic = uri.MustParse("/10001/1/8003")
)

// testConfig returns a channel config on a bus private to the test.
func testConfig(t *testing.T, source uri.Identity) *configpkg.Config {
	t.Helper()
	cfg := configpkg.Default()
	cfg.ChannelBus = t.Name()
	if !source.IsZero() {
		cfg.Source = source.String()
	}
	return cfg
}

func newTestNode(t *testing.T, cfg *configpkg.Config, deps NodeDependencies) *Node {
	t.Helper()
	if deps.Registerer == nil {
		deps.Registerer = prometheus.NewRegistry()
	}
	n, err := TryNewNode(cfg, loggingpkg.Nop(), context.Background(), deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

// newRecordingNode returns a node whose transport records publishes.
func newRecordingNode(t *testing.T, source uri.Identity) (*Node, *transporttest.Publisher) {
	t.Helper()
	pub := &transporttest.Publisher{}
	n := newTestNode(t, testConfig(t, source), NodeDependencies{
		TransportFactory: transportpkg.Static(transport.Transport{
			Publisher:  pub,
			Subscriber: &transporttest.Subscriber{},
		}),
	})
	return n, pub
}

func publishedCount(n *Node, topic, result string) float64 {
	return testutil.ToFloat64(n.metrics.published.WithLabelValues(topic, result))
}

func receivedCount(n *Node, topic, result string) float64 {
	return testutil.ToFloat64(n.metrics.received.WithLabelValues(topic, result))
}

func textPayload(s string) payload.Payload {
	p, _ := payload.TextCodec{}.Encode(s)
	return p
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}
