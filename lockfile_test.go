package ptex

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireReleaseThenReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ptx.lock")

	l1, err := acquireLock(path)
	if err != nil {
		t.Fatalf("acquireLock: %v", err)
	}
	if err := l1.release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	l2, err := acquireLock(path)
	if err != nil {
		t.Fatalf("acquireLock after release: %v", err)
	}
	if err := l2.release(); err != nil {
		t.Fatalf("release (second): %v", err)
	}
}

func TestSameFileDetectsMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.lock")
	l, err := acquireLock(path)
	if err != nil {
		t.Fatalf("acquireLock: %v", err)
	}
	defer l.release()

	same, err := sameFile(l.f, path)
	if err != nil {
		t.Fatalf("sameFile: %v", err)
	}
	if !same {
		t.Errorf("expected sameFile to report true for the file just locked")
	}
}

func TestSameFileMissingPathIsFalse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "b.lock")
	l, err := acquireLock(path)
	if err != nil {
		t.Fatalf("acquireLock: %v", err)
	}
	defer l.f.Close()

	// Remove the path out from under the already-open handle; sameFile
	// must report false rather than erroring, since acquireLock's retry
	// loop relies on this to detect an unlink+recreate race.
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	same, err := sameFile(l.f, path)
	if err != nil {
		t.Fatalf("sameFile: %v", err)
	}
	if same {
		t.Errorf("expected sameFile to report false once path no longer exists")
	}
}
