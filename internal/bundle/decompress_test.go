package bundle

import (
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SiglumProject/busytex-lazy/internal/common"
)

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func lz4Bytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestDecompressGzip(t *testing.T) {
	t.Parallel()

	want := []byte("concatenated file contents")
	got, err := Decompress(gzipBytes(t, want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecompressLZ4(t *testing.T) {
	t.Parallel()

	want := []byte("concatenated file contents via lz4")
	got, err := Decompress(lz4Bytes(t, want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecompressUnrecognisedMagicIsMalformed(t *testing.T) {
	t.Parallel()

	_, err := Decompress([]byte("not a compressed stream at all"))
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindMalformed))
}
