// Package testutil provides shared test helpers for setting up notebooks and caches.
package testutil

import (
	"os"
	"testing"

	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/storage"
)

// TestNotebook creates a temporary notebook directory with a storage.Provider.
func TestNotebook(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// TestIndex opens a temporary cache over store that is automatically cleaned up.
func TestIndex(t *testing.T, store storage.Provider) *index.Index {
	t.Helper()
	dbFile, err := os.CreateTemp("", "ansuz-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	ix, err := index.Open(dbFile.Name(), store)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}
