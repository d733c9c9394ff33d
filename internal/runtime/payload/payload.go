// Package payload encodes typed values into format-tagged byte payloads and
// decodes them back.
//
// Fixed-width numeric codecs use little-endian byte order on every host. The
// length of the data is validated before any conversion so a short payload is
// reported as ErrTruncated instead of being read out of bounds.
package payload

import (
	"fmt"
	"strconv"
	"strings"

	errspkg "github.com/drblury/uplink/internal/runtime/errors"
)

// Format tags how the bytes of a payload must be interpreted. Values follow
// the uProtocol UPayloadFormat numbering.
type Format int32

const (
	FormatUnspecified          Format = 0
	FormatProtobufWrappedInAny Format = 1
	FormatProtobuf             Format = 2
	FormatJSON                 Format = 3
	FormatSomeIP               Format = 4
	FormatSomeIPTLV            Format = 5
	FormatRaw                  Format = 6
	FormatText                 Format = 7
)

var formatNames = map[Format]string{
	FormatUnspecified:          "UNSPECIFIED",
	FormatProtobufWrappedInAny: "PROTOBUF_WRAPPED_IN_ANY",
	FormatProtobuf:             "PROTOBUF",
	FormatJSON:                 "JSON",
	FormatSomeIP:               "SOMEIP",
	FormatSomeIPTLV:            "SOMEIP_TLV",
	FormatRaw:                  "RAW",
	FormatText:                 "TEXT",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return "FORMAT(" + strconv.Itoa(int(f)) + ")"
}

// ParseFormat accepts the numeric value or the name of a format.
func ParseFormat(s string) (Format, error) {
	if n, err := strconv.Atoi(s); err == nil {
		f := Format(n)
		if _, ok := formatNames[f]; !ok {
			return FormatUnspecified, fmt.Errorf("unknown payload format %d", n)
		}
		return f, nil
	}
	upper := strings.ToUpper(strings.TrimSpace(s))
	for f, name := range formatNames {
		if name == upper {
			return f, nil
		}
	}
	return FormatUnspecified, fmt.Errorf("unknown payload format %q", s)
}

// Payload is a tagged byte buffer carried inside a message.
type Payload struct {
	Format Format
	Data   []byte
}

// Len returns the size of the data in bytes.
func (p Payload) Len() int {
	return len(p.Data)
}

// Clone returns a payload that does not share its data slice.
func (p Payload) Clone() Payload {
	return Payload{Format: p.Format, Data: append([]byte(nil), p.Data...)}
}

// Encoder turns a value into a payload.
type Encoder[T any] interface {
	Encode(v T) (Payload, error)
}

// Decoder turns a payload into a value.
type Decoder[T any] interface {
	Decode(p Payload) (T, error)
}

// Codec is a matching Encoder/Decoder pair.
type Codec[T any] interface {
	Encoder[T]
	Decoder[T]
}

// ExpectFormat fails with ErrFormatMismatch unless p carries want.
func ExpectFormat(p Payload, want Format) error {
	if p.Format != want {
		return fmt.Errorf("%w: expected %s, got %s", errspkg.ErrFormatMismatch, want, p.Format)
	}
	return nil
}

// ExpectSize fails with ErrTruncated when p holds fewer than n bytes.
func ExpectSize(p Payload, n int) error {
	if len(p.Data) < n {
		return fmt.Errorf("%w: need %d bytes, got %d", errspkg.ErrTruncated, n, len(p.Data))
	}
	return nil
}
