// Copyright 2024 LatentFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bundle

import (
	"regexp"
	"sort"
	"strings"
)

// Source scanning regexes (§4.2 "Source scanning").
var (
	usepackageRe    = regexp.MustCompile(`\\usepackage(?:\[[^\]]*\])?\{([^}]*)\}`)
	requirepackage  = regexp.MustCompile(`\\RequirePackage(?:\[[^\]]*\])?\{([^}]*)\}`)
	documentclassRe = regexp.MustCompile(`\\documentclass(?:\[[^\]]*\])?\{([^}]*)\}`)
)

// ExtractPackages returns every package (and the document class) referenced
// by source, in order of first appearance, deduplicated.
func ExtractPackages(source string) []string {
	var names []string
	seen := make(map[string]struct{})

	add := func(list string) {
		for _, n := range strings.Split(list, ",") {
			n = strings.TrimSpace(n)
			if n == "" {
				continue
			}
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			names = append(names, n)
		}
	}

	type match struct {
		pos  int
		list string
	}
	var matches []match
	for _, re := range []*regexp.Regexp{usepackageRe, requirepackage, documentclassRe} {
		for _, m := range re.FindAllStringSubmatchIndex(source, -1) {
			matches = append(matches, match{pos: m[0], list: source[m[2]:m[3]]})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].pos < matches[j].pos })
	for _, m := range matches {
		add(m.list)
	}
	return names
}

// unicodeEngineCommands are commands whose mere presence requires a
// Unicode-capable engine (§4.2 "Engine auto-detection").
var unicodeEngineCommands = []string{
	`\usepackage{fontspec}`,
	`\usepackage{unicode-math}`,
	`\setmainfont`,
	`\setsansfont`,
	`\setmonofont`,
}

// RequiresUnicodeEngine reports whether source contains any construct that
// forces a Unicode-capable engine (xelatex/lualatex), overriding a pdflatex
// default. The Engine Selector's hard-requirement rules (§4.4) are the
// authority on *which* Unicode engine; this only says pdflatex won't do.
func RequiresUnicodeEngine(source string) bool {
	for _, marker := range unicodeEngineCommands {
		if strings.Contains(source, marker) {
			return true
		}
	}
	return false
}
