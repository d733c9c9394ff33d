// Package envelope defines the message that travels between nodes and its
// mapping onto Watermill messages.
package envelope

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/drblury/uplink/internal/runtime/ids"
	"github.com/drblury/uplink/internal/runtime/metadata"
	"github.com/drblury/uplink/internal/runtime/payload"
	"github.com/drblury/uplink/internal/runtime/status"
	"github.com/drblury/uplink/internal/runtime/uri"
)

// Type distinguishes published data from RPC traffic.
type Type int8

const (
	TypeUnspecified Type = 0
	TypePublish     Type = 1
	TypeRequest     Type = 2
	TypeResponse    Type = 3
)

var typeNames = map[Type]string{
	TypePublish:  "pub",
	TypeRequest:  "req",
	TypeResponse: "res",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unspecified"
}

// ParseType reverses Type.String.
func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return TypeUnspecified, fmt.Errorf("unknown message type %q", s)
}

// Priority is the class of service of a message, CS0 lowest to CS6 highest.
type Priority int8

const (
	PriorityUnspecified Priority = 0
	CS0                 Priority = 1
	CS1                 Priority = 2
	CS2                 Priority = 3
	CS3                 Priority = 4
	CS4                 Priority = 5
	CS5                 Priority = 6
	CS6                 Priority = 7
)

// DefaultPublishPriority applies to publish messages that set none.
const DefaultPublishPriority = CS1

// MinRequestPriority is the lowest class an RPC request may use.
const MinRequestPriority = CS4

func (p Priority) String() string {
	if p < CS0 || p > CS6 {
		return "UNSPECIFIED"
	}
	return "CS" + strconv.Itoa(int(p-CS0))
}

// ParsePriority accepts names such as "CS4". Empty input is unspecified.
func ParsePriority(s string) (Priority, error) {
	if s == "" || s == "UNSPECIFIED" {
		return PriorityUnspecified, nil
	}
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(s), "CS"))
	if err != nil || n < 0 || n > 6 || !strings.HasPrefix(strings.ToUpper(s), "CS") {
		return PriorityUnspecified, fmt.Errorf("unknown priority %q", s)
	}
	return CS0 + Priority(n), nil
}

// Message is the unit handed to and received from a transport.
//
// For a publish message Source is the topic. A request goes from the
// caller's reply identity (Source) to a method (Sink); its response goes from
// that method back to the caller's reply identity and carries the request's
// ID in RequestID.
type Message struct {
	ID       string
	Type     Type
	Source   uri.Identity
	Sink     uri.Identity
	Payload  payload.Payload
	Priority Priority
	TTL      time.Duration

	RequestID     string
	Status        status.Code
	StatusMessage string

	// Metadata holds application headers. Reserved keys are ignored.
	Metadata metadata.Metadata
}

// NewPublish builds a publish message for topic.
func NewPublish(topic uri.Identity, p payload.Payload) *Message {
	return &Message{
		ID:       ids.CreateULID(),
		Type:     TypePublish,
		Source:   topic,
		Payload:  p,
		Priority: DefaultPublishPriority,
	}
}

// NewRequest builds a request from the reply identity of source to method.
func NewRequest(source, method uri.Identity, p payload.Payload, ttl time.Duration) *Message {
	return &Message{
		ID:       ids.CreateULID(),
		Type:     TypeRequest,
		Source:   source.ReplyTo(),
		Sink:     method,
		Payload:  p,
		Priority: MinRequestPriority,
		TTL:      ttl,
	}
}

// NewResponse builds the successful response to req.
func NewResponse(req *Message, p payload.Payload) *Message {
	return &Message{
		ID:        ids.CreateULID(),
		Type:      TypeResponse,
		Source:    req.Sink,
		Sink:      req.Source,
		Payload:   p,
		Priority:  req.Priority,
		TTL:       req.TTL,
		RequestID: req.ID,
		Status:    status.OK,
	}
}

// NewErrorResponse builds a response to req that carries only a status.
func NewErrorResponse(req *Message, st *status.Status) *Message {
	res := NewResponse(req, payload.Payload{})
	res.Status = st.Code
	res.StatusMessage = st.Message
	return res
}

// Topic returns the transport topic the message is sent on.
func (m *Message) Topic() string {
	if m.Type == TypePublish {
		return m.Source.Topic()
	}
	return m.Sink.Topic()
}

// Err returns the carried status as an error, nil when OK.
func (m *Message) Err() error {
	if m.Status == status.OK {
		return nil
	}
	return status.New(m.Status, m.StatusMessage)
}

// Expired reports whether the message outlived its TTL at now. The send time
// is taken from the ULID of the message, or of the request for a response.
// Messages without a TTL never expire.
func (m *Message) Expired(now time.Time) bool {
	if m.TTL <= 0 {
		return false
	}
	id := m.ID
	if m.Type == TypeResponse && m.RequestID != "" {
		id = m.RequestID
	}
	sentAt, err := ids.Timestamp(id)
	if err != nil {
		return false
	}
	return now.After(sentAt.Add(m.TTL))
}

// Validate checks the identity roles and attributes required by the type.
func (m *Message) Validate() error {
	if m.ID == "" {
		return status.New(status.InvalidArgument, "message id is empty")
	}
	switch m.Type {
	case TypePublish:
		if err := uri.ValidateTopic(m.Source); err != nil {
			return status.Wrap(status.InvalidArgument, err)
		}
	case TypeRequest:
		if err := uri.ValidateReply(m.Source); err != nil {
			return status.Wrap(status.InvalidArgument, err)
		}
		if err := uri.ValidateMethod(m.Sink); err != nil {
			return status.Wrap(status.InvalidArgument, err)
		}
		if m.TTL <= 0 {
			return status.New(status.InvalidArgument, "request ttl must be positive")
		}
		if m.Priority < MinRequestPriority {
			return status.Newf(status.InvalidArgument, "request priority %s is below %s", m.Priority, MinRequestPriority)
		}
	case TypeResponse:
		if err := uri.ValidateMethod(m.Source); err != nil {
			return status.Wrap(status.InvalidArgument, err)
		}
		if err := uri.ValidateReply(m.Sink); err != nil {
			return status.Wrap(status.InvalidArgument, err)
		}
		if m.RequestID == "" {
			return status.New(status.InvalidArgument, "response has no request id")
		}
	default:
		return status.Newf(status.InvalidArgument, "unsupported message type %d", m.Type)
	}
	return nil
}
