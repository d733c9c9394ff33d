// Package main provides the uplink sample CLI: a publisher, a subscriber and
// both ends of the time RPC, over any registered transport.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	runtimepkg "github.com/drblury/uplink/internal/runtime"
	configpkg "github.com/drblury/uplink/internal/runtime/config"
	loggingpkg "github.com/drblury/uplink/internal/runtime/logging"
	"github.com/drblury/uplink/internal/runtime/uri"
	"github.com/drblury/uplink/internal/samples"
)

type options struct {
	configPath    string
	debug         bool
	jsonLogs      bool
	transport     string
	nullPublisher bool

	out io.Writer
	// registerer overrides the Prometheus registry, mainly for tests.
	registerer prometheus.Registerer
}

func newRootCmd(opts *options) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "uplink",
		Short: "uplink - periodic publish, subscribe and RPC samples",
		Long: `uplink runs small sample nodes over a pluggable transport: a publisher
emitting time, random and counter topics, a subscriber logging them, and a
time service with a client calling it once a second.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&opts.debug, "debug", "d", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonLogs, "json", false, "log as JSON")
	rootCmd.PersistentFlags().StringVarP(&opts.transport, "transport", "t", "", "override the configured transport")

	pubCmd := &cobra.Command{
		Use:   "pub",
		Short: "Publish the sample topics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd.Context(), samples.PublisherNode, func(ctx context.Context, n *runtimepkg.Node) error {
				return samples.RunPublisher(ctx, n, samples.PublishOptions{WithNullPublisher: opts.nullPublisher})
			})
		},
	}
	pubCmd.Flags().BoolVar(&opts.nullPublisher, "with-null-publisher", false, "also schedule the CS3 publisher on the counter topic")

	subCmd := &cobra.Command{
		Use:   "sub",
		Short: "Subscribe to the sample topics and log what arrives",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd.Context(), samples.TimeClient, func(ctx context.Context, n *runtimepkg.Node) error {
				if _, err := samples.Subscribe(ctx, n, nil); err != nil {
					return err
				}
				<-ctx.Done()
				return nil
			})
		},
	}

	serverCmd := &cobra.Command{
		Use:   "rpc-server",
		Short: "Serve the current time over RPC",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd.Context(), samples.TimeServer, func(ctx context.Context, n *runtimepkg.Node) error {
				if _, err := samples.ServeTime(ctx, n, nil); err != nil {
					return err
				}
				n.Logger.Info("Serving time", loggingpkg.LogFields{"method": samples.TimeMethod.String()})
				<-ctx.Done()
				return nil
			})
		},
	}

	clientCmd := &cobra.Command{
		Use:   "rpc-client",
		Short: "Request the time once a second",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd.Context(), samples.TimeClient, func(ctx context.Context, n *runtimepkg.Node) error {
				return samples.RunTimeClient(ctx, n, samples.ClientOptions{})
			})
		},
	}

	rootCmd.AddCommand(pubCmd, subCmd, serverCmd, clientCmd)
	return rootCmd
}

// loadConfig reads the config file and applies flag overrides. source fills
// in the node identity when the file names none.
func (o *options) loadConfig(source uri.Identity) (*configpkg.Config, error) {
	cfg, err := configpkg.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if o.transport != "" {
		cfg.PubSubSystem = o.transport
	}
	if cfg.Source == "" {
		cfg.Source = source.String()
	}
	return cfg, nil
}

func (o *options) run(ctx context.Context, source uri.Identity, body func(context.Context, *runtimepkg.Node) error) error {
	cfg, err := o.loadConfig(source)
	if err != nil {
		return err
	}

	logger := loggingpkg.New(o.out, loggingpkg.Options{Debug: o.debug, JSON: o.jsonLogs})
	n, err := runtimepkg.TryNewNode(cfg, logger, ctx, runtimepkg.NodeDependencies{Registerer: o.registerer})
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}
	defer func() {
		if err := n.Close(); err != nil {
			logger.Error("Closing node failed", err, nil)
		}
	}()

	if err := n.Start(); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}
	logger.Info("Node started", loggingpkg.LogFields{
		"source":    n.Source().String(),
		"transport": cfg.PubSubSystem,
	})

	err = body(ctx, n)
	if ctx.Err() != nil {
		logger.Info("Signal received, exiting", nil)
	}
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := &options{out: os.Stderr}
	if err := newRootCmd(opts).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
