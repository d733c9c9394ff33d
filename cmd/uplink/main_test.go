package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/uplink/internal/runtime/errors"
	"github.com/drblury/uplink/internal/samples"
)

func newTestOptions() (*options, *bytes.Buffer) {
	var buf bytes.Buffer
	return &options{out: &buf, registerer: prometheus.NewRegistry()}, &buf
}

func TestRootCommandTree(t *testing.T) {
	opts, _ := newTestOptions()
	root := newRootCmd(opts)

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"pub", "sub", "rpc-server", "rpc-client"} {
		assert.True(t, names[want], "missing command %s", want)
	}
	for _, flag := range []string{"config", "debug", "transport"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), "missing flag %s", flag)
	}

	pub, _, err := root.Find([]string{"pub"})
	require.NoError(t, err)
	assert.NotNil(t, pub.Flags().Lookup("with-null-publisher"))
}

func TestLoadConfigAppliesOverrides(t *testing.T) {
	opts, _ := newTestOptions()
	opts.transport = "zmq"

	cfg, err := opts.loadConfig(samples.TimeServer)
	require.NoError(t, err)
	assert.Equal(t, "zmq", cfg.PubSubSystem)
	assert.Equal(t, samples.TimeServer.String(), cfg.Source)
}

func TestLoadConfigKeepsFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uplink.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pubsub_system: channel\nsource: /5/1/0\n"), 0o600))

	opts, _ := newTestOptions()
	opts.configPath = path
	cfg, err := opts.loadConfig(samples.TimeClient)
	require.NoError(t, err)
	assert.Equal(t, "/5/1/0", cfg.Source)
}

func TestUnknownTransportFails(t *testing.T) {
	opts, _ := newTestOptions()
	root := newRootCmd(opts)
	root.SetArgs([]string{"rpc-client", "--transport", "carrier-pigeon"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errspkg.ErrTransportUnavailable)
}

func TestCommandsStopWhenContextEnds(t *testing.T) {
	for _, name := range []string{"pub", "sub", "rpc-server", "rpc-client"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "uplink.yaml")
			require.NoError(t, os.WriteFile(path, []byte("pubsub_system: channel\nchannel_bus: "+name+"\n"), 0o600))

			opts, logs := newTestOptions()
			root := newRootCmd(opts)
			root.SetArgs([]string{name, "-c", path})

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			require.NoError(t, root.ExecuteContext(ctx))
			assert.Contains(t, logs.String(), "Node started")
		})
	}
}
