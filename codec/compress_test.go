package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("nalix"), 1000)

	compressed := Compress(payload)
	require.Less(t, len(compressed), len(payload))

	got, err := Decompress(compressed)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestDecompressRejectsGarbage(t *testing.T) {
	_, err := Decompress([]byte("not s2 data"))
	require.Error(t, err)
}
