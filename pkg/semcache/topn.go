package semcache

import (
	"container/heap"
	"sort"
)

// TopEntries returns up to n of the most-hit live entries from the
// in-memory mirror, most-hit first. It is a local diagnostic view: in a
// multi-instance deployment each instance reports its own mirror.
func (c *Cache) TopEntries(n int) []*CacheEntry {
	if n <= 0 {
		return nil
	}

	h := &entryMinHeap{}
	heap.Init(h)
	for _, entry := range c.volatile.ListLive() {
		if h.Len() < n {
			heap.Push(h, entry)
			continue
		}
		if entry.HitCount > (*h)[0].HitCount {
			(*h)[0] = entry
			heap.Fix(h, 0)
		}
	}

	top := make([]*CacheEntry, h.Len())
	copy(top, *h)
	sort.Slice(top, func(i, j int) bool {
		if top[i].HitCount != top[j].HitCount {
			return top[i].HitCount > top[j].HitCount
		}
		return top[i].PromptHash < top[j].PromptHash
	})
	return top
}

// entryMinHeap keeps the n highest hit counts by evicting its minimum.
type entryMinHeap []*CacheEntry

func (h entryMinHeap) Len() int            { return len(h) }
func (h entryMinHeap) Less(i, j int) bool  { return h[i].HitCount < h[j].HitCount }
func (h entryMinHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryMinHeap) Push(x interface{}) { *h = append(*h, x.(*CacheEntry)) }
func (h *entryMinHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
