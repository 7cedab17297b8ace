package history

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestSnapshotLifecycle(t *testing.T) {
	svc := New(t.TempDir())

	first, err := svc.CommitSnapshot("des_1", []byte("v1"), "Avery", "Initial save")
	if err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	if first.Hash == "" {
		t.Fatal("expected commit hash")
	}

	second, err := svc.CommitSnapshot("des_1", []byte("v2"), "Avery", "Second save")
	if err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}

	versions, err := svc.Versions("des_1", 10)
	if err != nil {
		t.Fatalf("Versions() error = %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}
	if versions[0].Hash != second.Hash {
		t.Fatalf("expected newest first, got %+v", versions)
	}

	data, err := svc.GetSnapshot("des_1", first.Hash)
	if err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
	if !bytes.Equal(data, []byte("v1")) {
		t.Fatalf("unexpected snapshot data %q", data)
	}
}

func TestVersionsOfUnknownDesignIsEmpty(t *testing.T) {
	svc := New(t.TempDir())

	versions, err := svc.Versions("des_missing", 10)
	if err != nil {
		t.Fatalf("Versions() error = %v", err)
	}
	if len(versions) != 0 {
		t.Fatalf("expected no versions, got %d", len(versions))
	}
}

func TestRejectsPathEscapingIDs(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "snapshots")
	if err := os.MkdirAll(base, 0o755); err != nil {
		t.Fatalf("mkdir base: %v", err)
	}
	svc := New(base)

	for _, id := range []string{"../escaped", "a/b", `a\b`, "..", ""} {
		if _, err := svc.CommitSnapshot(id, []byte("v1"), "Avery", "Save"); err == nil {
			t.Fatalf("CommitSnapshot(%q) must fail", id)
		}
		if _, err := svc.Versions(id, 10); err == nil {
			t.Fatalf("Versions(%q) must fail", id)
		}
		if _, err := svc.GetSnapshot(id, "abcdef0"); err == nil {
			t.Fatalf("GetSnapshot(%q) must fail", id)
		}
	}

	// Nothing may appear outside the base directory.
	if _, err := os.Stat(filepath.Join(root, "escaped")); !os.IsNotExist(err) {
		t.Fatalf("repository escaped the base dir: %v", err)
	}
}

func TestConcurrentCommitsSameDesign(t *testing.T) {
	svc := New(t.TempDir())

	if _, err := svc.CommitSnapshot("des_1", []byte("base"), "Avery", "Initial save"); err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			payload := []byte(fmt.Sprintf("revision-%02d", idx))
			if _, err := svc.CommitSnapshot("des_1", payload, "Avery", fmt.Sprintf("Save %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("CommitSnapshot() concurrent error = %v", err)
		}
	}

	versions, err := svc.Versions("des_1", 100)
	if err != nil {
		t.Fatalf("Versions() error = %v", err)
	}
	if len(versions) < writers+1 {
		t.Fatalf("expected at least %d versions, got %d", writers+1, len(versions))
	}
}
