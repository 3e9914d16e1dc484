// Package artifacts embeds the default configuration files shipped with the
// binary, following the teacher's pattern of embedding a template settings
// file rather than hand-rolling default values in Go source.
package artifacts

import _ "embed"

// GlobalSettings is the default ~/.texlazy/settings.yaml template, used when
// no settings file exists yet.
//go:embed global/settings.yaml
var GlobalSettings []byte
