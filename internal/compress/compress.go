package compress

import "strings"

// Compress encodes and decodes opaque payloads. Implementations are safe for
// concurrent use.
type Compress interface {
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

// ByName returns the codec for a configuration value: "lz4" or "none".
func ByName(name string) Compress {
	switch strings.ToLower(name) {
	case "none", "nop", "off":
		return NewNop()
	default:
		return NewLZ4()
	}
}
