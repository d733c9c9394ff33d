package payload

import (
	"fmt"
	"reflect"
	"unicode/utf8"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"

	errspkg "github.com/drblury/uplink/internal/runtime/errors"
	jsoncodec "github.com/drblury/uplink/internal/runtime/jsoncodec"
)

// TextCodec carries UTF-8 strings.
type TextCodec struct{}

func (TextCodec) Encode(s string) (Payload, error) {
	if !utf8.ValidString(s) {
		return Payload{}, fmt.Errorf("text payload is not valid UTF-8")
	}
	return Payload{Format: FormatText, Data: []byte(s)}, nil
}

func (TextCodec) Decode(p Payload) (string, error) {
	if err := ExpectFormat(p, FormatText); err != nil {
		return "", err
	}
	if !utf8.Valid(p.Data) {
		return "", fmt.Errorf("%w: text payload is not valid UTF-8", errspkg.ErrFormatMismatch)
	}
	return string(p.Data), nil
}

// JSONCodec carries any JSON-serialisable value.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(v T) (Payload, error) {
	data, err := jsoncodec.Marshal(v)
	if err != nil {
		return Payload{}, fmt.Errorf("failed to marshal JSON payload: %w", err)
	}
	return Payload{Format: FormatJSON, Data: data}, nil
}

func (JSONCodec[T]) Decode(p Payload) (T, error) {
	var out T
	if err := ExpectFormat(p, FormatJSON); err != nil {
		return out, err
	}
	if err := jsoncodec.Unmarshal(p.Data, &out); err != nil {
		return out, fmt.Errorf("failed to unmarshal JSON payload: %w", err)
	}
	return out, nil
}

// ProtoCodec carries a serialised protobuf message of type T. T must be a
// pointer to a generated message struct.
type ProtoCodec[T proto.Message] struct{}

func (ProtoCodec[T]) Encode(v T) (Payload, error) {
	data, err := proto.Marshal(v)
	if err != nil {
		return Payload{}, fmt.Errorf("failed to marshal protobuf payload: %w", err)
	}
	return Payload{Format: FormatProtobuf, Data: data}, nil
}

func (ProtoCodec[T]) Decode(p Payload) (T, error) {
	msg, err := newProtoMessage[T]()
	if err != nil {
		return msg, err
	}
	if err := ExpectFormat(p, FormatProtobuf); err != nil {
		return msg, err
	}
	if err := proto.Unmarshal(p.Data, msg); err != nil {
		return msg, fmt.Errorf("failed to unmarshal protobuf payload: %w", err)
	}
	return msg, nil
}

// AnyCodec carries a protobuf message wrapped in google.protobuf.Any so the
// receiver can discover its type.
type AnyCodec struct{}

func (AnyCodec) Encode(v proto.Message) (Payload, error) {
	wrapped, err := anypb.New(v)
	if err != nil {
		return Payload{}, fmt.Errorf("failed to wrap protobuf payload: %w", err)
	}
	data, err := proto.Marshal(wrapped)
	if err != nil {
		return Payload{}, fmt.Errorf("failed to marshal protobuf payload: %w", err)
	}
	return Payload{Format: FormatProtobufWrappedInAny, Data: data}, nil
}

func (AnyCodec) Decode(p Payload) (proto.Message, error) {
	if err := ExpectFormat(p, FormatProtobufWrappedInAny); err != nil {
		return nil, err
	}
	var wrapped anypb.Any
	if err := proto.Unmarshal(p.Data, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to unmarshal protobuf payload: %w", err)
	}
	msg, err := wrapped.UnmarshalNew()
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap protobuf payload: %w", err)
	}
	return msg, nil
}

// UnwrapAny decodes an Any payload into a concrete message type.
func UnwrapAny[T proto.Message](p Payload) (T, error) {
	var zero T
	msg, err := AnyCodec{}.Decode(p)
	if err != nil {
		return zero, err
	}
	typed, ok := msg.(T)
	if !ok {
		return zero, fmt.Errorf("%w: payload holds %T, want %T", errspkg.ErrFormatMismatch, msg, zero)
	}
	return typed, nil
}

func newProtoMessage[T proto.Message]() (T, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return zero, fmt.Errorf("protobuf codec type %T must be a pointer", zero)
	}
	return reflect.New(typ.Elem()).Interface().(T), nil
}
