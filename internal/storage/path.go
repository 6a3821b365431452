package storage

import "strings"

// NormalizePath canonicalizes a path into the adapter namespace.
//
// Rules: the root is "/"; repeated slashes collapse; "." segments are
// dropped; ".." pops the previous segment; normalization never escapes
// above the root. Relative input is treated as rooted.
func NormalizePath(path string) string {
	if path == "" {
		return "/"
	}

	segments := strings.Split(path, "/")
	stack := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "", ".":
			// collapsed slash or current-dir marker
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, seg)
		}
	}

	if len(stack) == 0 {
		return "/"
	}
	return "/" + strings.Join(stack, "/")
}

// IsRoot reports whether path normalizes to the root directory.
func IsRoot(path string) bool {
	return NormalizePath(path) == "/"
}

// ParentPath returns the normalized parent of path; the parent of the root
// is the root itself.
func ParentPath(path string) string {
	p := NormalizePath(path)
	if p == "/" {
		return "/"
	}
	idx := strings.LastIndex(p, "/")
	if idx <= 0 {
		return "/"
	}
	return p[:idx]
}

// BaseName returns the final segment of the normalized path, or "/" for the
// root.
func BaseName(path string) string {
	p := NormalizePath(path)
	if p == "/" {
		return "/"
	}
	return p[strings.LastIndex(p, "/")+1:]
}

// AncestorPaths returns every ancestor of path from "/" outward, excluding
// path itself. For "/a/b/c" it returns ["/", "/a", "/a/b"].
func AncestorPaths(path string) []string {
	p := NormalizePath(path)
	ancestors := []string{"/"}
	if p == "/" {
		return ancestors[:0]
	}
	segs := strings.Split(p[1:], "/")
	cur := ""
	for _, seg := range segs[:len(segs)-1] {
		cur += "/" + seg
		ancestors = append(ancestors, cur)
	}
	return ancestors
}

// IsPathUnder reports whether child is equal to or nested under parent,
// comparing normalized forms.
func IsPathUnder(child, parent string) bool {
	c := NormalizePath(child)
	p := NormalizePath(parent)
	if p == "/" {
		return true
	}
	return c == p || strings.HasPrefix(c, p+"/")
}
