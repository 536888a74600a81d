package storage

import (
	"testing"
)

func tempNotebook(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempNotebook(t)
	content := []byte("# Hello\nWorld\n")
	if err := s.Write("page.md", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("page.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempNotebook(t)
	if err := s.Write("a/b/c.md", []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("a/b/c.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestDelete(t *testing.T) {
	s := tempNotebook(t)
	_ = s.Write("del.md", []byte("bye"))
	if err := s.Delete("del.md"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("del.md"); err == nil {
		t.Error("expected error reading deleted file")
	}
}

func TestMove(t *testing.T) {
	s := tempNotebook(t)
	_ = s.Write("old.md", []byte("data"))
	if err := s.Move("old.md", "sub/new.md"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	got, err := s.Read("sub/new.md")
	if err != nil {
		t.Fatalf("Read after move: %v", err)
	}
	if string(got) != "data" {
		t.Errorf("content = %q", got)
	}
	if _, err := s.Read("old.md"); err == nil {
		t.Error("old path should not exist")
	}
}

func TestListDir(t *testing.T) {
	s := tempNotebook(t)
	_ = s.Write("a.md", []byte("a"))
	_ = s.Write("sub/b.md", []byte("b"))
	_ = s.Write("readme.txt", []byte("not md"))

	entries, err := s.ListDir(".")
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	// Direct children only: a.md, readme.txt, and the sub folder.
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	var folders, files int
	for _, e := range entries {
		switch e.Kind {
		case KindFolder:
			folders++
		case KindFile:
			files++
		}
	}
	if folders != 1 || files != 2 {
		t.Errorf("folders = %d, files = %d", folders, files)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempNotebook(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.md",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestNodeExistence(t *testing.T) {
	s := tempNotebook(t)
	_ = s.Write("sub/page.md", []byte("content"))

	if n := s.FileNode("sub/page.md"); !n.Exists() {
		t.Error("file node should exist")
	}
	if n := s.FolderNode("sub/page.md"); n.Exists() {
		t.Error("folder node of a file path should not exist")
	}
	if n := s.FolderNode("sub"); !n.Exists() {
		t.Error("folder node should exist")
	}
	if n := s.FileNode("missing.md"); n.Exists() {
		t.Error("missing file should not exist")
	}
	if n := s.FileNode("../escape.md"); n.Exists() {
		t.Error("escaping node should never exist")
	}
}

func TestNodeModTime(t *testing.T) {
	s := tempNotebook(t)
	_ = s.Write("page.md", []byte("content"))

	if _, ok := s.FileNode("page.md").ModTime(); !ok {
		t.Error("expected mtime for existing file")
	}
	if _, ok := s.FileNode("missing.md").ModTime(); ok {
		t.Error("expected no mtime for missing file")
	}
	if _, ok := s.FolderNode(".").ModTime(); !ok {
		t.Error("expected mtime for the root folder")
	}
}
