package index

import (
	"path"
	"strings"
)

// Page names are colon-separated and mirror the notebook tree: the file
// "Projects/Ansuz.md" backs the page "Projects:Ansuz", and the folder
// "Projects" is the namespace "Projects". The empty name is the tree root.

const pageExt = ".md"

// IsPageFile reports whether a notebook file path holds page content.
func IsPageFile(p string) bool {
	return strings.HasSuffix(p, pageExt)
}

// PageNameFromPath maps a notebook path (relative, slash-separated) to its
// page name. The root path "." maps to the empty root name.
func PageNameFromPath(p string) string {
	if p == "." || p == "" {
		return ""
	}
	p = strings.TrimSuffix(p, pageExt)
	return strings.ReplaceAll(p, "/", ":")
}

// PathFromPageName maps a page name back to the notebook file path that
// would hold its content.
func PathFromPageName(name string) string {
	return strings.ReplaceAll(name, ":", "/") + pageExt
}

// parentName returns the namespace one level up, or the empty root name.
func parentName(name string) string {
	if i := strings.LastIndex(name, ":"); i >= 0 {
		return name[:i]
	}
	return ""
}

// joinName appends a basename to a namespace.
func joinName(ns, base string) string {
	if ns == "" {
		return base
	}
	return ns + ":" + base
}

// parentPath returns the parent of a slash-separated relative path,
// with "." as the root.
func parentPath(p string) string {
	return path.Dir(p)
}

// childPath joins a folder path and an entry name.
func childPath(dir, name string) string {
	if dir == "." || dir == "" {
		return name
	}
	return dir + "/" + name
}
