package compress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecs(t *testing.T) {
	payload := bytes.Repeat([]byte(`{"id":"a1","type":"pspdfkit/ink"}`), 64)

	cases := []struct {
		name  string
		codec Compress
	}{
		{"lz4", NewLZ4()},
		{"nop", NewNop()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			enc, err := tc.codec.Encode(payload)
			require.NoError(t, err)
			dec, err := tc.codec.Decode(enc)
			require.NoError(t, err)
			assert.Equal(t, payload, dec)
		})
	}
}

func TestLZ4Shrinks(t *testing.T) {
	payload := bytes.Repeat([]byte("annotation"), 512)
	enc, err := NewLZ4().Encode(payload)
	require.NoError(t, err)
	assert.Less(t, len(enc), len(payload))
}

func TestLZ4RejectsGarbage(t *testing.T) {
	_, err := NewLZ4().Decode([]byte("not a frame"))
	assert.Error(t, err)
}

func TestByName(t *testing.T) {
	assert.IsType(t, Nop{}, ByName("none"))
	assert.IsType(t, LZ4{}, ByName("lz4"))
	assert.IsType(t, LZ4{}, ByName(""))
}
