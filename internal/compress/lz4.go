package compress

import (
	"bytes"
	"fmt"

	"github.com/pierrec/lz4/v4"

	"github.com/zeusync/annosync/pkg/generic"
)

var buffers = generic.NewResetPool(
	func() *bytes.Buffer { return new(bytes.Buffer) },
	func(b *bytes.Buffer) { b.Reset() },
)

// LZ4 frames payloads with the lz4 streaming format.
type LZ4 struct {
	level lz4.CompressionLevel
}

func NewLZ4() LZ4 {
	return LZ4{level: lz4.Fast}
}

func (c LZ4) Encode(data []byte) ([]byte, error) {
	buf := buffers.Get()
	defer buffers.Put(buf)

	w := lz4.NewWriter(buf)
	if err := w.Apply(lz4.CompressionLevelOption(c.level)); err != nil {
		return nil, fmt.Errorf("lz4 options: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 encode: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 encode: %w", err)
	}
	return bytes.Clone(buf.Bytes()), nil
}

func (c LZ4) Decode(data []byte) ([]byte, error) {
	buf := buffers.Get()
	defer buffers.Put(buf)

	r := lz4.NewReader(bytes.NewReader(data))
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("lz4 decode: %w", err)
	}
	return bytes.Clone(buf.Bytes()), nil
}
