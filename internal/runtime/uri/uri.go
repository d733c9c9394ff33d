// Package uri models the addressing identity used for topics, RPC methods and
// reply destinations.
package uri

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Resource ID ranges. Resource 0 addresses an entity's reply endpoint, RPC
// methods live below MinTopicResource and published topics at or above it.
const (
	ResponseResource  uint16 = 0
	MinMethodResource uint16 = 0x0001
	MaxMethodResource uint16 = 0x7FFF
	MinTopicResource  uint16 = 0x8000
)

const topicPrefix = "up"

var (
	ErrInvalidURI    = errors.New("uri: invalid identity")
	ErrNotTopic      = errors.New("uri: resource is not a publish topic")
	ErrNotMethod     = errors.New("uri: resource is not an rpc method")
	ErrNotReplyRoute = errors.New("uri: resource is not a reply endpoint")
)

// Identity addresses an entity (software component), its major version and a
// resource on it. It is a comparable value and safe to use as a map key.
type Identity struct {
	EntityID   uint32
	Version    uint8
	ResourceID uint16
}

// New builds an Identity.
func New(entity uint32, version uint8, resource uint16) Identity {
	return Identity{EntityID: entity, Version: version, ResourceID: resource}
}

// IsZero reports whether the identity is unset.
func (id Identity) IsZero() bool {
	return id == Identity{}
}

// IsTopic reports whether the resource is in the publish range.
func (id Identity) IsTopic() bool {
	return id.ResourceID >= MinTopicResource
}

// IsMethod reports whether the resource is in the RPC method range.
func (id Identity) IsMethod() bool {
	return id.ResourceID >= MinMethodResource && id.ResourceID <= MaxMethodResource
}

// IsReply reports whether the identity addresses a reply endpoint.
func (id Identity) IsReply() bool {
	return id.ResourceID == ResponseResource && id.EntityID != 0
}

// ReplyTo returns the reply endpoint of the same entity.
func (id Identity) ReplyTo() Identity {
	id.ResourceID = ResponseResource
	return id
}

// WithResource returns a copy pointing at another resource of the same entity.
func (id Identity) WithResource(resource uint16) Identity {
	id.ResourceID = resource
	return id
}

// String renders the identity in short URI form: /entity/version/resource,
// every segment in lower-case hex.
func (id Identity) String() string {
	return fmt.Sprintf("/%x/%x/%x", id.EntityID, id.Version, id.ResourceID)
}

// Topic renders a name that every supported broker accepts as a topic,
// subject or queue name.
func (id Identity) Topic() string {
	return fmt.Sprintf("%s.%x.%x.%x", topicPrefix, id.EntityID, id.Version, id.ResourceID)
}

// MarshalText implements encoding.TextMarshaler so identities can live in
// YAML and JSON documents as plain strings.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Parse reads the short URI form produced by String. An optional
// "up:" scheme prefix is accepted.
func Parse(s string) (Identity, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(s), "up:")
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
		return Identity{}, fmt.Errorf("%w: %q must start with a single '/'", ErrInvalidURI, s)
	}
	parts := strings.Split(raw[1:], "/")
	if len(parts) != 3 {
		return Identity{}, fmt.Errorf("%w: %q needs entity, version and resource", ErrInvalidURI, s)
	}
	return fromSegments(s, parts)
}

// ParseTopic reverses Topic.
func ParseTopic(topic string) (Identity, error) {
	parts := strings.Split(topic, ".")
	if len(parts) != 4 || parts[0] != topicPrefix {
		return Identity{}, fmt.Errorf("%w: topic %q", ErrInvalidURI, topic)
	}
	return fromSegments(topic, parts[1:])
}

// MustParse is Parse for package-level literals.
func MustParse(s string) Identity {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

func fromSegments(src string, parts []string) (Identity, error) {
	entity, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: entity in %q: %v", ErrInvalidURI, src, err)
	}
	version, err := strconv.ParseUint(parts[1], 16, 8)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: version in %q: %v", ErrInvalidURI, src, err)
	}
	resource, err := strconv.ParseUint(parts[2], 16, 16)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: resource in %q: %v", ErrInvalidURI, src, err)
	}
	return New(uint32(entity), uint8(version), uint16(resource)), nil
}

// ValidateTopic checks that id can be published to.
func ValidateTopic(id Identity) error {
	if id.EntityID == 0 || !id.IsTopic() {
		return fmt.Errorf("%w: %s", ErrNotTopic, id)
	}
	return nil
}

// ValidateMethod checks that id can be the target of an RPC request.
func ValidateMethod(id Identity) error {
	if id.EntityID == 0 || !id.IsMethod() {
		return fmt.Errorf("%w: %s", ErrNotMethod, id)
	}
	return nil
}

// ValidateReply checks that id can receive RPC responses.
func ValidateReply(id Identity) error {
	if !id.IsReply() {
		return fmt.Errorf("%w: %s", ErrNotReplyRoute, id)
	}
	return nil
}
