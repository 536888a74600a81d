// Package storage defines the notebook file-system abstraction.
package storage

import "time"

// Entry describes one direct child of a notebook folder.
type Entry struct {
	Name    string
	Kind    Kind
	ModTime time.Time
}

// Provider is the interface for notebook file operations. The notebook tree
// is the source of truth for file existence and content; the index cache
// only mirrors it and never writes through this interface on its own.
type Provider interface {
	// Root returns the absolute path of the notebook root directory.
	Root() string
	// ListDir returns the direct children of dir (relative to the root),
	// files and folders alike. It does not recurse.
	ListDir(dir string) ([]Entry, error)
	// Read returns the raw bytes of the file at path (relative to the root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to the root).
	Write(path string, content []byte) error
	// Delete removes the file at path (relative to the root).
	Delete(path string) error
	// Move renames oldPath to newPath (both relative to the root).
	Move(oldPath, newPath string) error
	// FileNode returns the Node of kind file at path (relative to the root).
	FileNode(path string) Node
	// FolderNode returns the Node of kind folder at path (relative to the root).
	FolderNode(path string) Node
}
