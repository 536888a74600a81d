package index

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal(msg)
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) record(kind, path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, kind+" "+path)
}

func (l *eventLog) has(want string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == want {
			return true
		}
	}
	return false
}

func startWatcher(t *testing.T, notebook string, ix *Index, log *eventLog) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		store := ix.store
		if err := Watch(ctx, ix, store, notebook, testLogger(), log.record); err != nil {
			t.Errorf("Watch: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Give the watcher a moment to install its watches before events fire.
	time.Sleep(50 * time.Millisecond)
}

func TestWatcherIndexesCreatedFile(t *testing.T) {
	notebook, _, ix := testEnv(t)
	if err := ix.CheckAndUpdate(); err != nil {
		t.Fatal(err)
	}
	var log eventLog
	startWatcher(t, notebook, ix, &log)

	writeFile(t, notebook, "watched.md", "# Watched\n")

	eventually(t, func() bool {
		p, _ := ix.PageByName("watched")
		return p != nil && p.HasContent
	}, "created file never reached the index")
}

func TestWatcherIndexesEditedFile(t *testing.T) {
	notebook, _, ix := testEnv(t)
	writeFile(t, notebook, "note.md", "# Note\n")
	if err := ix.CheckAndUpdate(); err != nil {
		t.Fatal(err)
	}
	var log eventLog
	startWatcher(t, notebook, ix, &log)

	writeFile(t, notebook, "note.md", "# Note\n[[fresh-target]]\n")

	eventually(t, func() bool {
		p, _ := ix.PageByName("fresh-target")
		return p != nil
	}, "edit never reached the index")
}

func TestWatcherRetiresRemovedFile(t *testing.T) {
	notebook, _, ix := testEnv(t)
	writeFile(t, notebook, "doomed.md", "# Doomed\n")
	if err := ix.CheckAndUpdate(); err != nil {
		t.Fatal(err)
	}
	var log eventLog
	startWatcher(t, notebook, ix, &log)

	if err := os.Remove(filepath.Join(notebook, "doomed.md")); err != nil {
		t.Fatal(err)
	}

	eventually(t, func() bool {
		p, _ := ix.PageByName("doomed")
		return p == nil
	}, "removal never reached the index")
	eventually(t, func() bool {
		return log.has("deleted doomed.md")
	}, "delete callback never fired")
}

func TestWatcherPicksUpNewDirectory(t *testing.T) {
	notebook, _, ix := testEnv(t)
	if err := ix.CheckAndUpdate(); err != nil {
		t.Fatal(err)
	}
	var log eventLog
	startWatcher(t, notebook, ix, &log)

	// Populate a directory outside the tree, then move it in: the watcher
	// sees a single Create for the directory and must find the file inside.
	staging := t.TempDir()
	if err := os.MkdirAll(filepath.Join(staging, "incoming"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(staging, "incoming", "inside.md"), []byte("# Inside\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(filepath.Join(staging, "incoming"), filepath.Join(notebook, "incoming")); err != nil {
		t.Fatal(err)
	}

	eventually(t, func() bool {
		p, _ := ix.PageByName("incoming:inside")
		return p != nil && p.HasContent
	}, "directory contents never reached the index")
}

func TestWatcherHandlesRename(t *testing.T) {
	notebook, _, ix := testEnv(t)
	writeFile(t, notebook, "before.md", "# Before\n")
	if err := ix.CheckAndUpdate(); err != nil {
		t.Fatal(err)
	}
	var log eventLog
	startWatcher(t, notebook, ix, &log)

	if err := os.Rename(filepath.Join(notebook, "before.md"), filepath.Join(notebook, "after.md")); err != nil {
		t.Fatal(err)
	}

	eventually(t, func() bool {
		oldGone, _ := ix.PageByName("before")
		moved, _ := ix.PageByName("after")
		return oldGone == nil && moved != nil && moved.HasContent
	}, "rename never fully reconciled")
}
