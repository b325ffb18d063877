package ptex

import (
	"container/list"
	"sync"
)

// This file implements the intrusive, refcounted ownership model of
// spec.md section 3/component C7, grounded in PtexCache.h's PtexLruItem:
// every object the cache manages the lifetime of (a Reader, a mipmap
// level, a face-data buffer, a tile, a lazily-loaded large-metadata
// value) embeds a cacheItem. An item is a member of its LRU list if and
// only if nothing currently holds an external reference to it; dropping
// the last reference moves it to the tail of its list instead of
// destroying it, so a recently-used-but-unreferenced item can be revived
// cheaply by the next lookup.
//
// The original expresses this with per-item spin locks and atomic
// use-counts so that incUseCount/decUseCount never block. This module
// instead funnels all of one list's item-state transitions through that
// list's single mutex: the invariants are the same (ref()/unref() pairs
// are cheap, uncontended operations in practice), but the locking is
// plain and easy to reason about without a toolchain to verify it with.

// lruKind selects which of a Cache's two LRU lists an item belongs to.
type lruKind int

const (
	lruFiles lruKind = iota // open Readers, budgeted by count (PTEX_MAXFILES)
	lruData                 // levels/tiles/face-data/large-metadata, budgeted by bytes (PTEX_MAXMEM)
)

// cacheItem is embedded in every cache-owned object.
type cacheItem struct {
	list     *lruList
	size     int64 // resident bytes charged to the data budget; 0 for lruFiles items
	useCount int
	orphaned bool
	elem     *list.Element // non-nil iff currently linked into list.l
	destroy  func()        // releases owned resources; invoked exactly once
	once     sync.Once
}

// initItem attaches ci to its owning list with an initial use-count of
// one, representing the reference the caller that just created it holds.
func (ci *cacheItem) initItem(ll *lruList, size int64, destroy func()) {
	ci.list = ll
	ci.size = size
	ci.useCount = 1
	ci.destroy = destroy
}

// standalone marks an item as never cache-managed (spec.md's Texture.Open
// without a Cache): ref/unref/orphan become no-ops other than invoking
// destroy exactly once when the external count reaches zero.
func (ci *cacheItem) initStandalone(destroy func()) {
	ci.useCount = 1
	ci.destroy = destroy
}

// ref adds an external reference, pulling the item out of its LRU list if
// it was idle there.
func (ci *cacheItem) ref() {
	if ci.list == nil {
		ci.useCount++
		return
	}
	ll := ci.list
	ll.mu.Lock()
	ci.useCount++
	ll.unlink(ci)
	ll.mu.Unlock()
}

// unref releases one external reference. At zero it either joins the LRU
// list (the common case) or, if orphaned, is destroyed immediately.
func (ci *cacheItem) unref() {
	if ci.list == nil {
		ci.useCount--
		if ci.useCount == 0 {
			ci.once.Do(ci.destroy)
		}
		return
	}
	ll := ci.list
	ll.mu.Lock()
	ci.useCount--
	if ci.useCount > 0 {
		ll.mu.Unlock()
		return
	}
	if ci.orphaned {
		ll.mu.Unlock()
		ci.once.Do(ci.destroy)
		return
	}
	ll.link(ci)
	ll.mu.Unlock()
	ll.evictOverBudget()
}

// orphan detaches ci from its parent: extracted from its LRU list (if
// present there) and flagged so that, once its external use-count reaches
// zero (here or on a future unref), it self-destructs instead of
// re-entering the list. Matches PtexLruItem::orphan().
func (ci *cacheItem) orphan() {
	if ci.list == nil {
		if ci.useCount == 0 {
			ci.once.Do(ci.destroy)
		} else {
			ci.orphaned = true
		}
		return
	}
	ll := ci.list
	ll.mu.Lock()
	if ci.orphaned {
		ll.mu.Unlock()
		return
	}
	ci.orphaned = true
	ll.unlink(ci)
	count := ci.useCount
	ll.mu.Unlock()
	if count == 0 {
		ci.once.Do(ci.destroy)
	}
}

// lruList is one of a Cache's two eviction lists.
type lruList struct {
	mu       sync.Mutex
	l        *list.List
	kind     lruKind
	byteSize int64
	maxFiles int
	maxBytes int64
	minCount int
}

func newLRUList(kind lruKind, maxFiles int, maxBytes int64, minCount int) *lruList {
	return &lruList{l: list.New(), kind: kind, maxFiles: maxFiles, maxBytes: maxBytes, minCount: minCount}
}

// link must be called with ll.mu held; appends ci to the tail.
func (ll *lruList) link(ci *cacheItem) {
	ci.elem = ll.l.PushBack(ci)
	if ll.kind == lruData {
		ll.byteSize += ci.size
	}
}

// unlink must be called with ll.mu held; removes ci if currently linked.
func (ll *lruList) unlink(ci *cacheItem) {
	if ci.elem == nil {
		return
	}
	ll.l.Remove(ci.elem)
	if ll.kind == lruData {
		ll.byteSize -= ci.size
	}
	ci.elem = nil
}

// evictOverBudget pops least-recently-used items, destroying each, until
// the list satisfies its budget. For the data list, items are never
// evicted below minCount resident items regardless of byte size — the
// floor named in spec.md section 3 that keeps a cache from thrashing down
// to zero residents under a too-small PTEX_MAXMEM.
func (ll *lruList) evictOverBudget() {
	for {
		ll.mu.Lock()
		var victim *cacheItem
		switch ll.kind {
		case lruFiles:
			if ll.maxFiles > 0 && ll.l.Len() > ll.maxFiles {
				victim = ll.l.Front().Value.(*cacheItem)
			}
		case lruData:
			if ll.maxBytes > 0 && ll.byteSize > ll.maxBytes && ll.l.Len() > ll.minCount {
				victim = ll.l.Front().Value.(*cacheItem)
			}
		}
		if victim == nil {
			ll.mu.Unlock()
			return
		}
		ll.unlink(victim)
		ll.mu.Unlock()
		victim.once.Do(victim.destroy)
	}
}

// len reports the current resident item count (locks internally).
func (ll *lruList) len() int {
	ll.mu.Lock()
	defer ll.mu.Unlock()
	return ll.l.Len()
}

// bytes reports the current resident byte size (data list only).
func (ll *lruList) bytes() int64 {
	ll.mu.Lock()
	defer ll.mu.Unlock()
	return ll.byteSize
}

// purgeAll evicts every item regardless of budget, used by Cache.PurgeAll
// and by tests that need a deterministic empty cache.
func (ll *lruList) purgeAll() {
	for {
		ll.mu.Lock()
		front := ll.l.Front()
		if front == nil {
			ll.mu.Unlock()
			return
		}
		victim := front.Value.(*cacheItem)
		ll.unlink(victim)
		ll.mu.Unlock()
		victim.once.Do(victim.destroy)
	}
}
