// Package jsoncodec is the single JSON entry point used for JSON payloads and
// for the frame encoding of the peer-to-peer transports.
package jsoncodec

import (
	"github.com/bytedance/sonic"
)

// Standard-library compatible behaviour (sorted map keys, HTML escaping) so
// frames produced on different hosts compare byte for byte.
var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// Valid reports whether data is a syntactically valid JSON document.
func Valid(data []byte) bool {
	return defaultConfig.Valid(data)
}
