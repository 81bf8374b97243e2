// SPDX-License-Identifier: AGPL-3.0-only
package sessionstore

import (
	"container/list"
	"sync"

	"github.com/bigduu/Bamboo/internal/chatmodel"
)

// lruCache is a bounded, thread-safe cache of recently-touched
// sessions, per §4.7's cache-bounds requirement. Eviction only drops
// an entry from memory; the metadata document and event log on disk
// are the durable copy, so an evicted session is simply re-read on
// next access.
//
// No LRU library appears anywhere in the retrieved pack, so this is
// built directly on container/list the way the standard library's own
// documentation demonstrates an LRU: a doubly linked list ordered by
// recency plus a map for O(1) lookup.
type lruCache struct {
	mu      sync.Mutex
	cap     int
	entries map[string]*list.Element
	order   *list.List
}

type lruEntry struct {
	sessionID string
	session   *chatmodel.Session
}

func newLRUCache(cap int) *lruCache {
	return &lruCache{
		cap:     cap,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func (c *lruCache) get(sessionID string) (*chatmodel.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[sessionID]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*lruEntry).session, true
}

func (c *lruCache) put(sessionID string, sess *chatmodel.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[sessionID]; ok {
		elem.Value.(*lruEntry).session = sess
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&lruEntry{sessionID: sessionID, session: sess})
	c.entries[sessionID] = elem

	for c.order.Len() > c.cap {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*lruEntry).sessionID)
	}
}

func (c *lruCache) remove(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[sessionID]
	if !ok {
		return
	}
	c.order.Remove(elem)
	delete(c.entries, sessionID)
}
