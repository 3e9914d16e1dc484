package bundle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SiglumProject/busytex-lazy/internal/common"
)

func TestMetadataValidateAcceptsWellFormedExtents(t *testing.T) {
	t.Parallel()

	m := &Metadata{
		Name: "amsmath",
		Files: []FileExtent{
			{Path: "/texlive/texmf-dist/tex/latex/amsmath", Name: "amsmath.sty", Start: 0, End: 10},
			{Path: "/texlive/texmf-dist/tex/latex/amsmath", Name: "amsopn.sty", Start: 10, End: 25},
		},
		TotalSize: 25,
	}
	require.NoError(t, m.Validate())
	assert.Len(t, m.Files, 2)
}

func TestMetadataValidateRejectsOverlappingExtents(t *testing.T) {
	t.Parallel()

	m := &Metadata{
		Name: "broken",
		Files: []FileExtent{
			{Path: "/texlive/a", Name: "a.sty", Start: 0, End: 10},
			{Path: "/texlive/a", Name: "b.sty", Start: 5, End: 15},
		},
		TotalSize: 15,
	}
	err := m.Validate()
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindMalformed))
}

func TestMetadataValidateRejectsExtentPastTotalSize(t *testing.T) {
	t.Parallel()

	m := &Metadata{
		Name: "broken",
		Files: []FileExtent{
			{Path: "/texlive/a", Name: "a.sty", Start: 0, End: 100},
		},
		TotalSize: 10,
	}
	err := m.Validate()
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindMalformed))
}

func TestMetadataValidateDropsNonCanonicalFileWithoutFailingBundle(t *testing.T) {
	t.Parallel()

	m := &Metadata{
		Name: "mixed",
		Files: []FileExtent{
			{Path: "/texlive/a", Name: "a.sty", Start: 0, End: 5},
			{Path: "/etc", Name: "passwd", Start: 5, End: 10},
		},
		TotalSize: 10,
	}
	require.NoError(t, m.Validate())
	require.Len(t, m.Files, 1)
	assert.Equal(t, "/texlive/a/a.sty", m.Files[0].CanonicalPath())
}

func TestParseMetadata(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"name":"core","files":[{"path":"/texlive/core","name":"x.tex","start":0,"end":3}],"totalSize":3}`)
	m, err := ParseMetadata(raw)
	require.NoError(t, err)
	assert.Equal(t, "core", m.Name)
	assert.Len(t, m.Files, 1)
}

func TestParseMetadataRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	_, err := ParseMetadata([]byte(`not json`))
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindMalformed))
}
