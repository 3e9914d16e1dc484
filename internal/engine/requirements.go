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

// Package engine implements the Engine Selector component: choosing
// pdflatex/xelatex/lualatex from document features, learned compile-time
// statistics, and hard requirement rules.
package engine

import (
	"regexp"
	"strings"
	"unicode"
)

// Names of the three supported engines.
const (
	PDFLatex = "pdflatex"
	XeLatex  = "xelatex"
	LuaLatex = "lualatex"
)

// requirement is one engine's hard-requirement rule set (§4.4 "Requirement tables").
type requirement struct {
	packages map[string]struct{}
	commands []string
	scripts  []*unicode.RangeTable
}

func packageSet(names ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}

// scriptRanges are the five Unicode blocks that force a Unicode-capable
// engine. Implemented as explicit unicode.RangeTables rather than compiled
// regexes per call, since scanning a preamble rune-by-rune against a table
// is cheaper than a regex pass for this particular check.
var (
	arabicRange     = &unicode.RangeTable{R16: []unicode.Range16{{Lo: 0x0600, Hi: 0x06FF, Stride: 1}}}
	devanagariRange = &unicode.RangeTable{R16: []unicode.Range16{{Lo: 0x0900, Hi: 0x097F, Stride: 1}}}
	thaiRange       = &unicode.RangeTable{R16: []unicode.Range16{{Lo: 0x0E00, Hi: 0x0E7F, Stride: 1}}}
	cjkRange        = &unicode.RangeTable{R16: []unicode.Range16{{Lo: 0x3000, Hi: 0x9FFF, Stride: 1}}}
	hangulRange     = &unicode.RangeTable{R16: []unicode.Range16{{Lo: 0xAC00, Hi: 0xD7AF, Stride: 1}}}
)

var requirements = map[string]requirement{
	XeLatex: {
		packages: packageSet("fontspec", "unicode-math", "polyglossia", "xeCJK", "xunicode", "xltxtra", "mathspec", "realscripts", "metalogo", "xetex"),
		commands: []string{`\setmainfont`, `\setsansfont`, `\setmonofont`, `\newfontfamily`, `\setmathfont`, `\defaultfontfeatures`},
		scripts:  []*unicode.RangeTable{arabicRange, devanagariRange, thaiRange, cjkRange, hangulRange},
	},
	LuaLatex: {
		packages: packageSet("luacode", "luatexbase", "luaotfload", "luamplib", "luatextra"),
		commands: []string{`\directlua`, `\luaexec`, `\luadirect`},
	},
}

// softPreferenceXelatex are packages that lean xelatex without requiring it
// (§4.4 decision step 5 "Soft preference").
var softPreferenceXelatex = packageSet("geometry", "fancyhdr", "titlesec", "enumitem", "babel", "inputenc", "fontenc")

var commentRe = regexp.MustCompile(`%[^\n]*`)

func stripComments(source string) string {
	return commentRe.ReplaceAllString(source, "")
}

// hardRequirementMatch returns the engine a hard requirement rule forces, if
// any, and a human-readable reason naming what triggered it.
func hardRequirementMatch(packages []string, source string) (engineName, reason string, ok bool) {
	sansComments := stripComments(source)

	for _, eng := range []string{XeLatex, LuaLatex} {
		req := requirements[eng]
		for _, pkg := range packages {
			if _, found := req.packages[pkg]; found {
				return eng, "requires package " + pkg, true
			}
		}
		for _, cmd := range req.commands {
			if strings.Contains(sansComments, cmd) {
				return eng, "uses command " + cmd, true
			}
		}
		for _, rt := range req.scripts {
			for _, r := range sansComments {
				if unicode.Is(rt, r) {
					return eng, "source contains a script requiring a Unicode engine", true
				}
			}
		}
	}
	return "", "", false
}

// softPreferenceMatch implements decision step 5.
func softPreferenceMatch(packages []string) (ok bool) {
	for _, pkg := range packages {
		if _, found := softPreferenceXelatex[pkg]; found {
			return true
		}
	}
	return false
}
