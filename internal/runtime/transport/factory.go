// Package transport selects the message transport a node runs on.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/uplink/internal/runtime/config"
	errspkg "github.com/drblury/uplink/internal/runtime/errors"
	transportpkg "github.com/drblury/uplink/transport"

	// Register every built-in transport.
	_ "github.com/drblury/uplink/transport/transports"
)

// Factory abstracts how a node initialises its message transport.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (transportpkg.Transport, error)
}

// FactoryFunc adapts a plain function to Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (transportpkg.Transport, error)

// Build calls f.
func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (transportpkg.Transport, error) {
	return f(ctx, conf, logger)
}

// DefaultFactory returns the factory backed by the default transport registry.
func DefaultFactory() Factory {
	return RegistryFactory(transportpkg.DefaultRegistry)
}

// RegistryFactory returns a factory that builds from the supplied registry.
func RegistryFactory(registry *transportpkg.Registry) Factory {
	return FactoryFunc(func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (transportpkg.Transport, error) {
		if conf == nil {
			return transportpkg.Transport{}, errspkg.ErrConfigRequired
		}
		return registry.Build(ctx, conf, logger)
	})
}

// Static returns a factory that always hands out t. Tests use it to share one
// in-memory transport between nodes.
func Static(t transportpkg.Transport) Factory {
	return FactoryFunc(func(context.Context, *config.Config, watermill.LoggerAdapter) (transportpkg.Transport, error) {
		return t, nil
	})
}
