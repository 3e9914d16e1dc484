package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SiglumProject/busytex-lazy/internal/common"
)

func TestBlobStoreRoundTrip(t *testing.T) {
	t.Parallel()
	bs := NewMemBlobStore()

	key := "/texlive/texmf-dist/tex/latex/amsmath/amsmath.sty"
	payload := []byte("\\ProvidesPackage{amsmath}")

	ok, err := bs.Exists(key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, bs.Write(key, payload))

	ok, err = bs.Exists(key)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := bs.Read(key)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestBlobStoreOverwriteIsLastWriterWins(t *testing.T) {
	t.Parallel()
	bs := NewMemBlobStore()
	key := "/texlive/texmf-dist/tex/latex/geometry/geometry.sty"

	require.NoError(t, bs.Write(key, []byte("first")))
	require.NoError(t, bs.Write(key, []byte("second")))

	got, err := bs.Read(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)
}

func TestBlobStoreReadMissingIsNotFound(t *testing.T) {
	t.Parallel()
	bs := NewMemBlobStore()

	_, err := bs.Read("/texlive/texmf-dist/tex/latex/missing/missing.sty")
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindNotFound))
}

func TestBlobStoreDeleteMissingIsNotAnError(t *testing.T) {
	t.Parallel()
	bs := NewMemBlobStore()
	assert.NoError(t, bs.Delete("/texlive/texmf-dist/tex/latex/missing/missing.sty"))
}

func TestBlobStoreRejectsNonCanonicalPath(t *testing.T) {
	t.Parallel()
	bs := NewMemBlobStore()

	err := bs.Write("relative/path.sty", []byte("x"))
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindMalformed))
}

func TestBlobStoreBundlePseudoPath(t *testing.T) {
	t.Parallel()
	bs := NewMemBlobStore()

	require.NoError(t, bs.Write("bundle:latex-base", []byte("blob-bytes")))
	got, err := bs.Read("bundle:latex-base")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob-bytes"), got)
}
