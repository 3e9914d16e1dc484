package bundle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractPackages(t *testing.T) {
	t.Parallel()

	src := `\documentclass[12pt]{article}
\usepackage{amsmath, amssymb}
\RequirePackage[T1]{fontenc}
\begin{document}
Hello
\end{document}`

	got := ExtractPackages(src)
	assert.Equal(t, []string{"article", "amsmath", "amssymb", "fontenc"}, got)
}

func TestExtractPackagesDeduplicates(t *testing.T) {
	t.Parallel()

	src := `\usepackage{amsmath}\usepackage{amsmath}`
	got := ExtractPackages(src)
	assert.Equal(t, []string{"amsmath"}, got)
}

func TestExtractPackagesTrimsWhitespace(t *testing.T) {
	t.Parallel()

	src := `\usepackage{ amsmath ,  geometry }`
	got := ExtractPackages(src)
	assert.Equal(t, []string{"amsmath", "geometry"}, got)
}

func TestRequiresUnicodeEngine(t *testing.T) {
	t.Parallel()

	assert.True(t, RequiresUnicodeEngine(`\usepackage{fontspec}`))
	assert.True(t, RequiresUnicodeEngine(`\setmainfont{Latin Modern Roman}`))
	assert.False(t, RequiresUnicodeEngine(`\documentclass{article}\usepackage{amsmath}`))
}
