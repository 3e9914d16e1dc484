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

// Package fetcher implements the Package Fetcher component: resolving a
// package name that no bundle provides via a network repository, caching
// results, and supporting a cycle-safe transitive dependency closure.
package fetcher

import "regexp"

// recognisedExtensions are stripped from a missing-file name before it is
// treated as a package identifier (§4.3 "Name extraction").
var recognisedExtensions = []string{".sty", ".cls", ".def", ".clo", ".fd", ".cfg", ".tex"}

// cmSuperRe matches the font-family special case: ecXX###/tcXX### files all
// belong to the cm-super package.
var cmSuperRe = regexp.MustCompile(`^(ec|tc)[a-z]{2}[0-9]+$`)

// validNameRe bounds an acceptable package identifier.
var validNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{2,50}$`)

// skipNames are never treated as resolvable package names.
var skipNames = map[string]struct{}{
	"document":  {},
	"texput":    {},
	"null":      {},
	"undefined": {},
	"NaN":       {},
}

// ExtractPackageName derives a fetchable package identifier from a missing
// filename reported by the engine log (e.g. "abc.sty", "ecrm1000.tfm"). ok
// is false when the name should not be fetched at all.
func ExtractPackageName(missing string) (name string, ok bool) {
	stripped := missing
	for _, ext := range recognisedExtensions {
		if len(stripped) > len(ext) && stripped[len(stripped)-len(ext):] == ext {
			stripped = stripped[:len(stripped)-len(ext)]
			break
		}
	}

	if cmSuperRe.MatchString(stripped) {
		return "cm-super", true
	}

	if _, skip := skipNames[stripped]; skip {
		return "", false
	}
	if !validNameRe.MatchString(stripped) {
		return "", false
	}
	return stripped, true
}
