// Package transports imports all built-in transports for auto-registration.
// Import this package to have all transports registered with the default registry.
package transports

import (
	// Import all transports for side-effect registration
	_ "github.com/drblury/uplink/transport/aws"
	_ "github.com/drblury/uplink/transport/channel"
	_ "github.com/drblury/uplink/transport/gossip"
	_ "github.com/drblury/uplink/transport/http"
	_ "github.com/drblury/uplink/transport/kafka"
	_ "github.com/drblury/uplink/transport/nats"
	_ "github.com/drblury/uplink/transport/rabbitmq"
	_ "github.com/drblury/uplink/transport/zmq"
)
