package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintDeterministic(t *testing.T) {
	t.Parallel()

	src := `\documentclass{article}\usepackage{amsmath}\begin{document}hi\end{document}`
	a := Fingerprint(src)
	b := Fingerprint(src)
	assert.Equal(t, a, b)
	assert.Regexp(t, `^p_[0-9a-z]+$`, a)
}

func TestFingerprintIgnoresBodyChanges(t *testing.T) {
	t.Parallel()

	pre := `\documentclass{article}\usepackage{amsmath}`
	a := Fingerprint(pre + `\begin{document}hello world\end{document}`)
	b := Fingerprint(pre + `\begin{document}something completely different\end{document}`)
	assert.Equal(t, a, b, "fingerprint only depends on the preamble")
}

func TestFingerprintIgnoresCommentsAndWhitespace(t *testing.T) {
	t.Parallel()

	a := Fingerprint("\\documentclass{article}\n\\usepackage{amsmath}\n\\begin{document}")
	b := Fingerprint("\\documentclass{article}   % a comment\n\n\\usepackage{amsmath} % more\n\\begin{document}")
	assert.Equal(t, a, b)
}

func TestFingerprintFallsBackToFirst2000CharsWithoutBeginDocument(t *testing.T) {
	t.Parallel()

	long := make([]byte, 3000)
	for i := range long {
		long[i] = 'a'
	}
	a := Fingerprint(string(long))
	long[2500] = 'b' // change past the 2000-char cutoff must not affect the fingerprint
	b := Fingerprint(string(long))
	assert.Equal(t, a, b)
}

func TestDjb2Deterministic(t *testing.T) {
	t.Parallel()
	assert.Equal(t, djb2("hello"), djb2("hello"))
	assert.NotEqual(t, djb2("hello"), djb2("world"))
}
