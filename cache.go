package ptex

import (
	"sync"
	"sync/atomic"
)

// CacheStats mirrors PtexCache.h's CacheStats counter block (SUPPLEMENTED
// FEATURES #2): gathered only when CacheOptions.GatherStats is set, since
// the atomic increments are pure overhead otherwise.
type CacheStats struct {
	FilesOpened  int64
	FilesClosed  int64
	DataAlloc    int64
	DataFreed    int64
	BlocksRead   int64
	BytesRead    int64
}

// Cache is the process-wide, concurrency-safe LRU cache of open Readers
// and their resident level/tile/metadata buffers (spec.md section 3/6,
// component C7). Two independent LRU lists track the file-count budget
// and the byte budget; see cachenode.go for the shared eviction
// machinery and DESIGN.md for the ownership-model rationale. Only
// Readers are linked into an LRU list (the file list): loaded level data
// stays with its Reader and is never added to the data list, so the byte
// budget does not evict it.
type Cache struct {
	files *lruList
	data  *lruList

	io          InputHandler
	premultiply bool
	gatherStats bool

	search searchPath

	mu      sync.Mutex
	readers map[string]*readerSlot

	stats  CacheStats
	closed int32
}

// readerSlot deduplicates concurrent opens of the same path: the first
// goroutine to miss the cache for a path claims the slot's mutex and
// opens the file; any other goroutine racing it on the same path blocks
// on the same mutex and then reuses the result, so a path is never opened
// twice concurrently.
type readerSlot struct {
	mu     sync.Mutex
	reader *Reader
	failed error // sticky "do not retry" sentinel once non-nil
}

// NewCache constructs a Cache per spec.md's Cache.create(maxFiles,
// maxMemBytes, premultiply?). Zero values fall back to DefaultMaxFiles /
// DefaultMaxMemBytes.
func NewCache(opts CacheOptions) *Cache {
	maxFiles := opts.MaxFiles
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	maxMem := opts.MaxMemBytes
	if maxMem <= 0 {
		maxMem = DefaultMaxMemBytes
	}
	handler := opts.Handler
	if handler == nil {
		handler = NewDefaultInputHandler()
	}
	c := &Cache{
		io:          handler,
		premultiply: opts.Premultiply,
		gatherStats: opts.GatherStats,
		readers:     make(map[string]*readerSlot),
	}
	minData := minDataCount(maxFiles)
	c.files = newLRUList(lruFiles, maxFiles, 0, 0)
	c.data = newLRUList(lruData, 0, maxMem, minData)
	return c
}

// minDataCount is the eviction floor for the data list (spec.md section
// 3): never shrink below this many resident items even over budget, so a
// too-small PTEX_MAXMEM can't thrash the cache down to nothing.
func minDataCount(maxFiles int) int {
	n := 10 * maxFiles
	if n > 1000 {
		n = 1000
	}
	if n < 16 {
		n = 16
	}
	return n
}

// SetSearchPath configures the colon-separated directory list used to
// resolve relative paths passed to Get.
func (c *Cache) SetSearchPath(colonSeparated string) { c.search.set(colonSeparated) }

// Get opens (or returns a still-cached handle to) the texture at path,
// incrementing its reference count. The caller must call Release on the
// returned Reader when done with it.
func (c *Cache) Get(path string) (*Reader, error) {
	candidates := c.search.resolve(path)
	var slot *readerSlot
	var key string
	for _, cand := range candidates {
		key = cand
		c.mu.Lock()
		s, ok := c.readers[key]
		if !ok {
			s = &readerSlot{}
			c.readers[key] = s
		}
		c.mu.Unlock()
		slot = s

		slot.mu.Lock()
		if slot.failed != nil {
			slot.mu.Unlock()
			continue // this candidate path is known not to exist/open; try the next
		}
		if slot.reader != nil {
			slot.reader.ref()
			slot.mu.Unlock()
			return slot.reader, nil
		}
		r, err := openReader(cand, c)
		if err != nil {
			slot.failed = err
			slot.mu.Unlock()
			if c.gatherStats {
				// failed opens are not counted in FilesOpened.
			}
			continue
		}
		slot.reader = r
		slot.mu.Unlock()
		if c.gatherStats {
			atomic.AddInt64(&c.stats.FilesOpened, 1)
		}
		return r, nil
	}
	if slot != nil && slot.failed != nil {
		return nil, slot.failed
	}
	return nil, newError(KindFileNotFound, path, "not found on search path")
}

// Purge evicts path's Reader immediately if it has no outstanding
// references, matching spec.md's Cache.purge(path|texture). A Reader
// still externally referenced is instead orphaned, so it self-destructs
// on its last Release rather than returning to the LRU list.
func (c *Cache) Purge(path string) {
	candidates := c.search.resolve(path)
	c.mu.Lock()
	var slot *readerSlot
	for _, cand := range candidates {
		if s, ok := c.readers[cand]; ok && s.reader != nil {
			slot = s
			delete(c.readers, cand)
			break
		}
	}
	c.mu.Unlock()
	if slot == nil {
		return
	}
	slot.mu.Lock()
	r := slot.reader
	slot.reader = nil
	slot.mu.Unlock()
	r.cacheItem.orphan()
}

// PurgeAll evicts every cached Reader and all cached data, regardless of
// reference count for entries that are idle, and orphans the rest.
func (c *Cache) PurgeAll() {
	c.mu.Lock()
	slots := make([]*readerSlot, 0, len(c.readers))
	for k, s := range c.readers {
		slots = append(slots, s)
		delete(c.readers, k)
	}
	c.mu.Unlock()
	for _, s := range slots {
		s.mu.Lock()
		r := s.reader
		s.reader = nil
		s.mu.Unlock()
		if r != nil {
			r.cacheItem.orphan()
		}
	}
	c.data.purgeAll()
}

// Stats returns a snapshot of the cache's gathered counters. Valid
// whether or not GatherStats was enabled; it simply reads zeros if not.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		FilesOpened: atomic.LoadInt64(&c.stats.FilesOpened),
		FilesClosed: atomic.LoadInt64(&c.stats.FilesClosed),
		DataAlloc:   atomic.LoadInt64(&c.stats.DataAlloc),
		DataFreed:   atomic.LoadInt64(&c.stats.DataFreed),
		BlocksRead:  atomic.LoadInt64(&c.stats.BlocksRead),
		BytesRead:   atomic.LoadInt64(&c.stats.BytesRead),
	}
}

func (c *Cache) noteFileClosed() {
	if c.gatherStats {
		atomic.AddInt64(&c.stats.FilesClosed, 1)
	}
}
func (c *Cache) noteDataAlloc(n int64) {
	if c.gatherStats {
		atomic.AddInt64(&c.stats.DataAlloc, n)
	}
}
func (c *Cache) noteDataFreed(n int64) {
	if c.gatherStats {
		atomic.AddInt64(&c.stats.DataFreed, n)
	}
}
func (c *Cache) noteBlockRead(n int64) {
	if c.gatherStats {
		atomic.AddInt64(&c.stats.BlocksRead, 1)
		atomic.AddInt64(&c.stats.BytesRead, n)
	}
}
