// Package uplink is a small layer on top of Watermill for uProtocol-style
// nodes: periodic multi-topic publishers, typed subscriptions and RPC calls
// with a time-to-live and a correlated response. It reads the target
// transport from Config, builds a Node around the matching Watermill
// publisher and subscriber, and dispatches inbound messages through a
// middleware chain for tracing, metrics, logging and panic recovery.
//
// A Node owns one transport. Publishers bind a topic identity, a priority
// and an interval; a Scheduler fires them at their own cadence so a slow or
// failing job never holds up another. Subscribe and SubscribeTyped hand
// decoded envelopes to handlers. RPCClient sends requests with a ttl and
// resolves each Call exactly once as a response, a timeout, a transport error
// or a cancellation; Bind serves a method and answers every request.
//
// # Transports
//
// uplink supports 8 message transports out of the box:
//   - channel: In-memory Go channels shared by nodes in one process
//   - nats: NATS core subjects
//   - kafka: Kafka topics with consumer groups
//   - rabbitmq: AMQP fanout exchanges
//   - aws: AWS SNS/SQS with LocalStack support
//   - http: HTTP POST to a peer node
//   - gossip: libp2p gossipsub with optional mDNS discovery
//   - zmq: ZeroMQ PUB/SUB sockets
//
// # Payloads
//
// Payloads carry a format tag next to their bytes. Fixed-width numbers and
// time values travel as RAW little-endian bytes; Text, JSON, protobuf and
// protobuf-in-Any codecs cover structured data. Decoders reject a format
// mismatch or a truncated payload instead of reading past the end.
package uplink
