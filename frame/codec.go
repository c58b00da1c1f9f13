package frame

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFixedSize is returned by Binary for values without a fixed layout.
	ErrNotFixedSize = errors.New("value has no fixed binary layout")
	// ErrBodySize is returned when a body's length does not match the target layout.
	ErrBodySize = errors.New("body size mismatch")
)

// BodyCodec turns payload values into frame bodies and back. It is the
// strategy that separates the fixed-layout and the self-describing wire
// formats; the engine itself never inspects body bytes.
type BodyCodec interface {
	// Name identifies the codec in logs and metrics.
	Name() string
	// Marshal encodes v.
	Marshal(v any) ([]byte, error)
	// Unmarshal decodes data into v, which must be a pointer.
	Unmarshal(data []byte, v any) error
}

var (
	// Binary reads and writes fixed-size values as raw little-endian bytes
	// in field-declaration order.
	Binary BodyCodec = binaryCodec{}
	// JSON carries payloads as self-describing JSON documents.
	JSON BodyCodec = jsonCodec{}
)

type binaryCodec struct{}

func (binaryCodec) Name() string { return "binary" }

func (binaryCodec) Marshal(v any) ([]byte, error) {
	size := binary.Size(v)
	if size < 0 {
		return nil, fmt.Errorf("%w: %T", ErrNotFixedSize, v)
	}

	buf := bytes.NewBuffer(make([]byte, 0, size))
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		return nil, fmt.Errorf("binary encode %T: %w", v, err)
	}

	return buf.Bytes(), nil
}

func (binaryCodec) Unmarshal(data []byte, v any) error {
	size := binary.Size(v)
	if size < 0 {
		return fmt.Errorf("%w: %T", ErrNotFixedSize, v)
	}

	if size != len(data) {
		return fmt.Errorf("%w: %T wants %d bytes, got %d", ErrBodySize, v, size, len(data))
	}

	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, v); err != nil {
		return fmt.Errorf("binary decode %T: %w", v, err)
	}

	return nil
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json encode %T: %w", v, err)
	}

	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json decode %T: %w", v, err)
	}

	return nil
}

// PutString copies s into the fixed-size field dst, zero-padding or
// truncating as needed. Fixed-layout payloads use [N]byte for text.
//
// Parameters:
//   - dst: The fixed-size destination field
//   - s: The string to store
func PutString(dst []byte, s string) {
	n := copy(dst, s)
	clear(dst[n:])
}

// String interprets a fixed-size field as a null-terminated string.
//
// Parameters:
//   - src: The fixed-size field
//
// Returns:
//   - The content before the first null byte, or the whole field
func String(src []byte) string {
	if i := bytes.IndexByte(src, 0); i >= 0 {
		return string(src[:i])
	}

	return string(src)
}
