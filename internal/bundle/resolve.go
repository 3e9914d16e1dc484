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

import "github.com/SiglumProject/busytex-lazy/internal/common"

// coreBundles is the fixed set resolveBundles always seeds the closure with
// (§4.2 "Resolution algorithm").
var coreBundles = []string{"core", "latex-base", "l3", "graphics", "tools"}

// engineBundles is the per-engine addition to the seed set.
var engineBundles = map[string][]string{
	"pdflatex": {"fmt-pdflatex", "fonts-cm", "amsfonts"},
	"xelatex":  {"fmt-xelatex", "fontspec", "unicode-math"},
	"lualatex": {"fmt-lualatex", "fontspec", "unicode-math"},
}

// ResolveBundles computes the closure of bundles required to compile
// packages on engine. It is a pure function over the loaded registry: two
// calls with the same inputs produce the same set (Testable Property 2,
// closure idempotence), and bundles are only ever added, never removed, as
// more packages are folded in.
func ResolveBundles(r *Registry, packages []string, engine string) ([]string, error) {
	if !r.Loaded() {
		return nil, common.NewError(common.KindFatal, "ResolveBundles", common.ErrRegistryEmpty)
	}

	order := make([]string, 0, 16)
	seen := make(map[string]struct{})

	add := func(name string) {
		addBundleClosure(r, name, seen, &order)
	}

	for _, b := range coreBundles {
		add(b)
	}
	for _, b := range engineBundles[engine] {
		add(b)
	}

	visitedPkg := make(map[string]struct{})
	var visitPackage func(pkg string)
	visitPackage = func(pkg string) {
		if _, ok := visitedPkg[pkg]; ok {
			return
		}
		visitedPkg[pkg] = struct{}{}

		if b, ok := r.BundleFor(pkg); ok && r.HasBundle(b) {
			add(b)
		}
		if deps, ok := r.PackageDeps(pkg); ok {
			for _, dep := range deps {
				visitPackage(dep)
			}
		}
	}
	for _, pkg := range packages {
		visitPackage(pkg)
	}

	return order, nil
}

// addBundleClosure adds name and every bundle it transitively depends on to
// order, in dependency-precedes-dependent order, skipping names already
// seen. Cycle-safe via the seen set (§9 "Cyclic dependency tolerance").
func addBundleClosure(r *Registry, name string, seen map[string]struct{}, order *[]string) {
	if _, ok := seen[name]; ok {
		return
	}
	seen[name] = struct{}{}

	for _, dep := range r.BundleDeps(name) {
		addBundleClosure(r, dep, seen, order)
	}
	*order = append(*order, name)
}
