package payload

import (
	"encoding/binary"
	"math"
	"reflect"
	"time"
)

// Fixed lists the numeric types that have a fixed-width wire form.
type Fixed interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64 | ~float32 | ~float64
}

// FixedWidth encodes numbers as RAW payloads holding exactly Size() bytes in
// little-endian order. Decoding ignores trailing bytes beyond Size().
type FixedWidth[T Fixed] struct{}

// Size returns the encoded width of T in bytes.
func (FixedWidth[T]) Size() int {
	var zero T
	return binary.Size(zero)
}

func (c FixedWidth[T]) Encode(v T) (Payload, error) {
	buf := make([]byte, c.Size())
	putFixed(buf, v)
	return Payload{Format: FormatRaw, Data: buf}, nil
}

func (c FixedWidth[T]) Decode(p Payload) (T, error) {
	var zero T
	if err := ExpectFormat(p, FormatRaw); err != nil {
		return zero, err
	}
	if err := ExpectSize(p, c.Size()); err != nil {
		return zero, err
	}
	return getFixed[T](p.Data, c.Size()), nil
}

func putFixed[T Fixed](buf []byte, v T) {
	if isFloat[T]() {
		if len(buf) == 4 {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
		} else {
			binary.LittleEndian.PutUint64(buf, math.Float64bits(float64(v)))
		}
		return
	}
	switch len(buf) {
	case 1:
		buf[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(buf, uint64(v))
	}
}

func getFixed[T Fixed](buf []byte, size int) T {
	if isFloat[T]() {
		if size == 4 {
			return T(math.Float32frombits(binary.LittleEndian.Uint32(buf)))
		}
		return T(math.Float64frombits(binary.LittleEndian.Uint64(buf)))
	}
	switch size {
	case 1:
		return T(buf[0])
	case 2:
		return T(binary.LittleEndian.Uint16(buf))
	case 4:
		return T(binary.LittleEndian.Uint32(buf))
	default:
		return T(binary.LittleEndian.Uint64(buf))
	}
}

func isFloat[T Fixed]() bool {
	switch reflect.TypeFor[T]().Kind() {
	case reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// TimeCodec carries a wall-clock instant as a RAW payload holding a signed
// 64-bit count of milliseconds since the Unix epoch.
type TimeCodec struct{}

// TimeWidth is the encoded size of a time payload.
const TimeWidth = 8

func (TimeCodec) Encode(t time.Time) (Payload, error) {
	return FixedWidth[int64]{}.Encode(t.UnixMilli())
}

func (TimeCodec) Decode(p Payload) (time.Time, error) {
	ms, err := FixedWidth[int64]{}.Decode(p)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// CounterCodec carries a single unsigned byte.
type CounterCodec = FixedWidth[uint8]

// Counter produces 0, 1, ..., 255, 0, ... on successive calls. Each instance
// counts independently; it is not safe for concurrent use.
type Counter struct {
	next uint8
}

// Next returns the current value and advances, wrapping modulo 256.
func (c *Counter) Next() uint8 {
	v := c.next
	c.next++
	return v
}
