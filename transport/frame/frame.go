// Package frame serialises Watermill messages for transports that move raw
// bytes (gossip, ZeroMQ) and hands received messages to subscribers with
// Watermill's ack semantics.
package frame

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/uplink/internal/runtime/jsoncodec"
)

// ErrEmptyFrame is returned for frames without a message UUID.
var ErrEmptyFrame = errors.New("frame: missing message uuid")

type wireFrame struct {
	UUID     string            `json:"uuid"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Payload  []byte            `json:"payload,omitempty"`
}

// Marshal encodes msg as a JSON frame.
func Marshal(msg *message.Message) ([]byte, error) {
	return jsoncodec.Marshal(wireFrame{
		UUID:     msg.UUID,
		Metadata: msg.Metadata,
		Payload:  msg.Payload,
	})
}

// Unmarshal decodes a frame produced by Marshal.
func Unmarshal(data []byte) (*message.Message, error) {
	var f wireFrame
	if err := jsoncodec.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("frame: %w", err)
	}
	if f.UUID == "" {
		return nil, ErrEmptyFrame
	}
	msg := message.NewMessage(f.UUID, f.Payload)
	for k, v := range f.Metadata {
		msg.Metadata.Set(k, v)
	}
	return msg, nil
}

// Deliver hands msg to out and waits until it is acked or nacked. It returns
// false when ctx ends first. Nacked messages are not redelivered.
func Deliver(ctx context.Context, out chan<- *message.Message, msg *message.Message) bool {
	msg.SetContext(ctx)
	select {
	case out <- msg:
	case <-ctx.Done():
		return false
	}
	select {
	case <-msg.Acked():
		return true
	case <-msg.Nacked():
		return true
	case <-ctx.Done():
		return false
	}
}
