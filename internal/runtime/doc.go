/*
Package runtime implements the uplink node: periodic publishing, typed
subscriptions and request/response calls over a pluggable Watermill
transport.

# Node (node.go)

A Node owns one transport built through the transport registry and shares it
between every publisher, subscription and RPC endpoint created from it. Close
ends all of them and closes the transport.

# Publishing (publisher.go, scheduler.go, hooks.go)

A Publisher is bound to a topic identity, a priority and an optional
interval. A Scheduler fires PublishJobs: jobs with an interval run on their
own ticker, jobs without one share the base tick and fire in insertion order.
JobHooks observe every firing.

# Subscribing (subscriber.go, middleware.go)

Subscribe returns a live Subscription whose dispatcher goroutine passes every
message through the middleware chain (tracing, metrics, debug logging, panic
recovery) and acknowledges it afterwards. Messages that cannot be decoded are
logged and dropped.

# RPC (rpc_client.go, rpc_server.go)

An RPCClient sends requests from the node's reply identity and correlates
responses by request ID. Each Call moves from Built to Sent to Resolved and
resolves exactly once: Response, Timeout, TransportError or Cancelled. Bind
serves a method; handler errors and panics are answered with an error status.

# Subpackages

  - config: YAML configuration and validation
  - envelope: message attributes and their Watermill metadata mapping
  - errors: sentinel errors
  - ids: ULID generation
  - jsoncodec: sonic-backed JSON
  - logging: ServiceLogger on slog and Watermill
  - metadata: metadata keys and helpers
  - payload: payload formats and codecs
  - status: response status codes
  - transport: transport factory
  - uri: entity/version/resource identities
*/
package runtime
