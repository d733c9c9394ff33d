package envelope

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/uplink/internal/runtime/ids"
	"github.com/drblury/uplink/internal/runtime/metadata"
	"github.com/drblury/uplink/internal/runtime/payload"
	"github.com/drblury/uplink/internal/runtime/status"
	"github.com/drblury/uplink/internal/runtime/uri"
)

// ErrMalformed is returned when a transport message lacks or garbles the
// reserved headers.
var ErrMalformed = errors.New("envelope: malformed message")

// ToWatermill converts m into a Watermill message. A missing ID is filled in.
func ToWatermill(m *Message) *message.Message {
	if m.ID == "" {
		m.ID = ids.CreateULID()
	}
	msg := message.NewMessage(m.ID, m.Payload.Data)
	for k, v := range m.Metadata.Extra() {
		msg.Metadata.Set(k, v)
	}

	msg.Metadata.Set(metadata.KeyType, m.Type.String())
	msg.Metadata.Set(metadata.KeySource, m.Source.String())
	if !m.Sink.IsZero() {
		msg.Metadata.Set(metadata.KeySink, m.Sink.String())
	}
	msg.Metadata.Set(metadata.KeyFormat, strconv.Itoa(int(m.Payload.Format)))
	if m.Priority != PriorityUnspecified {
		msg.Metadata.Set(metadata.KeyPriority, m.Priority.String())
	}
	if m.TTL > 0 {
		msg.Metadata.Set(metadata.KeyTTL, strconv.FormatInt(m.TTL.Milliseconds(), 10))
	}
	if m.Type == TypeResponse {
		msg.Metadata.Set(metadata.KeyRequestID, m.RequestID)
		msg.Metadata.Set(metadata.KeyCorrelationID, m.RequestID)
		msg.Metadata.Set(metadata.KeyStatus, strconv.Itoa(int(m.Status)))
		if m.StatusMessage != "" {
			msg.Metadata.Set(metadata.KeyStatusMessage, m.StatusMessage)
		}
	}
	if m.Type == TypeRequest {
		msg.Metadata.Set(metadata.KeyCorrelationID, m.ID)
	}
	return msg
}

// FromWatermill reads a message produced by ToWatermill.
func FromWatermill(msg *message.Message) (*Message, error) {
	md := msg.Metadata

	typ, err := ParseType(md.Get(metadata.KeyType))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	source, err := uri.Parse(md.Get(metadata.KeySource))
	if err != nil {
		return nil, fmt.Errorf("%w: source: %v", ErrMalformed, err)
	}

	m := &Message{
		ID:       msg.UUID,
		Type:     typ,
		Source:   source,
		Metadata: metadata.FromWatermill(md).Extra(),
	}

	if raw := md.Get(metadata.KeySink); raw != "" {
		if m.Sink, err = uri.Parse(raw); err != nil {
			return nil, fmt.Errorf("%w: sink: %v", ErrMalformed, err)
		}
	}

	format := payload.FormatUnspecified
	if raw := md.Get(metadata.KeyFormat); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: format %q", ErrMalformed, raw)
		}
		format = payload.Format(n)
	}
	m.Payload = payload.Payload{Format: format, Data: msg.Payload}

	if m.Priority, err = ParsePriority(md.Get(metadata.KeyPriority)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if raw := md.Get(metadata.KeyTTL); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms < 0 {
			return nil, fmt.Errorf("%w: ttl %q", ErrMalformed, raw)
		}
		m.TTL = time.Duration(ms) * time.Millisecond
	}

	if typ == TypeResponse {
		m.RequestID = md.Get(metadata.KeyRequestID)
		if m.RequestID == "" {
			m.RequestID = md.Get(metadata.KeyCorrelationID)
		}
		if m.RequestID == "" {
			return nil, fmt.Errorf("%w: response without request id", ErrMalformed)
		}
		if raw := md.Get(metadata.KeyStatus); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: status %q", ErrMalformed, raw)
			}
			m.Status = status.Code(n)
		}
		m.StatusMessage = md.Get(metadata.KeyStatusMessage)
	}

	return m, nil
}
