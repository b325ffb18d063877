package ptex

import (
	"path/filepath"
	"testing"
)

func TestCacheGetReturnsSameReaderUntilReleased(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cached.ptx")
	w, err := OpenWriter(path, MeshQuad, DataUInt8, 1, -1, 1, false)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	fi := NewFaceInfo(Res{ULog2: 1, VLog2: 1})
	if err := w.WriteConstantFace(0, fi, []byte{5}); err != nil {
		t.Fatalf("WriteConstantFace: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c := NewCache(CacheOptions{MaxFiles: 4, MaxMemBytes: 1 << 20, GatherStats: true})

	r1, err := c.Get(path)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	r2, err := c.Get(path)
	if err != nil {
		t.Fatalf("Get (second): %v", err)
	}
	if r1 != r2 {
		t.Errorf("expected repeated Get on the same path to return the same Reader while referenced")
	}
	r1.Release()
	r2.Release()

	stats := c.Stats()
	if stats.FilesOpened != 1 {
		t.Errorf("expected exactly one underlying open, got %d", stats.FilesOpened)
	}
}

func TestCachePurgeEvictsIdleReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "purge.ptx")
	w, err := OpenWriter(path, MeshQuad, DataUInt8, 1, -1, 1, false)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	fi := NewFaceInfo(Res{ULog2: 1, VLog2: 1})
	if err := w.WriteConstantFace(0, fi, []byte{5}); err != nil {
		t.Fatalf("WriteConstantFace: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c := NewCache(CacheOptions{})
	r, err := c.Get(path)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	r.Release()
	c.Purge(path)

	r2, err := c.Get(path)
	if err != nil {
		t.Fatalf("Get after purge: %v", err)
	}
	defer r2.Release()
	if r2.NumFaces() != 1 {
		t.Errorf("expected reopened file to still report 1 face")
	}
}

func TestCachePurgeResolvesSearchPathKey(t *testing.T) {
	dir := t.TempDir()
	name := "searched.ptx"
	path := filepath.Join(dir, name)
	w, err := OpenWriter(path, MeshQuad, DataUInt8, 1, -1, 1, false)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	fi := NewFaceInfo(Res{ULog2: 1, VLog2: 1})
	if err := w.WriteConstantFace(0, fi, []byte{5}); err != nil {
		t.Fatalf("WriteConstantFace: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c := NewCache(CacheOptions{GatherStats: true})
	c.SetSearchPath(dir)

	// Get resolves the relative name through the search directory, so the
	// Reader is keyed under the joined path, not the bare name.
	r, err := c.Get(name)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	r.Release()

	// Purge by the same relative name the caller originally used: it must
	// resolve through the search path to find and evict the real entry,
	// not silently no-op because the bare name was never the cache key.
	c.Purge(name)

	r2, err := c.Get(name)
	if err != nil {
		t.Fatalf("Get after purge: %v", err)
	}
	defer r2.Release()
	if c.Stats().FilesOpened != 2 {
		t.Errorf("expected purge to force a fresh open (2 total opens), got %d", c.Stats().FilesOpened)
	}
}

func TestCacheGetMissingFileFails(t *testing.T) {
	c := NewCache(CacheOptions{})
	_, err := c.Get(filepath.Join(t.TempDir(), "does-not-exist.ptx"))
	if err == nil {
		t.Errorf("expected Get of a nonexistent path to fail")
	}
	if !IsKind(err, KindFileNotFound) {
		t.Errorf("expected KindFileNotFound, got %v", err)
	}
}

func TestCacheOptionsFromEnvDefaultsWhenUnset(t *testing.T) {
	t.Setenv("PTEX_MAXFILES", "")
	t.Setenv("PTEX_MAXMEM", "")
	opts := CacheOptionsFromEnv()
	if opts.MaxFiles != 0 || opts.MaxMemBytes != 0 {
		t.Errorf("expected zero-value opts when env vars are unset, got %+v", opts)
	}
}

func TestCacheOptionsFromEnvParsesValues(t *testing.T) {
	t.Setenv("PTEX_MAXFILES", "42")
	t.Setenv("PTEX_MAXMEM", "16")
	opts := CacheOptionsFromEnv()
	if opts.MaxFiles != 42 {
		t.Errorf("MaxFiles: got %d want 42", opts.MaxFiles)
	}
	if opts.MaxMemBytes != 16*1024*1024 {
		t.Errorf("MaxMemBytes: got %d want %d", opts.MaxMemBytes, 16*1024*1024)
	}
}
