package storage

import (
	"os"
	"time"
)

// Kind discriminates the two node kinds of the notebook tree.
type Kind uint8

const (
	// KindFile is a regular file.
	KindFile Kind = iota + 1
	// KindFolder is a directory.
	KindFolder
)

// String returns "file" or "folder".
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindFolder:
		return "folder"
	default:
		return "invalid"
	}
}

// Node identifies one file or folder in the notebook tree. A Node is a name,
// not a handle: the underlying entry may or may not exist, and Exists and
// ModTime re-check the tree on every call.
type Node struct {
	kind Kind
	rel  string // slash-separated, relative to the notebook root; "." is the root
	abs  string // empty when the path escaped the root
}

// Kind returns the node kind.
func (n Node) Kind() Kind { return n.kind }

// Path returns the slash-separated path relative to the notebook root.
func (n Node) Path() string { return n.rel }

// Exists reports whether an entry of the node's kind is present in the tree.
func (n Node) Exists() bool {
	if n.abs == "" {
		return false
	}
	info, err := os.Stat(n.abs)
	if err != nil {
		return false
	}
	return info.IsDir() == (n.kind == KindFolder)
}

// ModTime returns the entry's modification time. ok is false when the entry
// is absent or of the wrong kind.
func (n Node) ModTime() (mtime time.Time, ok bool) {
	if n.abs == "" {
		return time.Time{}, false
	}
	info, err := os.Stat(n.abs)
	if err != nil || info.IsDir() != (n.kind == KindFolder) {
		return time.Time{}, false
	}
	return info.ModTime(), true
}
