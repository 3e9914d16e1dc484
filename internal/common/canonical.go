package common

import "strings"

// CanonicalRoot is the path prefix every mounted file must live under. It is
// the identity namespace shared by bundles, package records, and the blob
// store (§3, §8 Testable Property 8 "Path safety").
const CanonicalRoot = "/texlive/"

// IsCanonicalPath reports whether p is a well-formed canonical path: it
// starts with CanonicalRoot and names something below it.
func IsCanonicalPath(p string) bool {
	return strings.HasPrefix(p, CanonicalRoot) && len(p) > len(CanonicalRoot)
}

// JoinCanonical builds a canonical path from a bundle file's declared
// directory and name, per §6: "Canonical path is path + "/" + name".
func JoinCanonical(dir, name string) string {
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" {
		return "/" + name
	}
	return dir + "/" + name
}
