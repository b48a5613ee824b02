package remote

import (
	"sync"
	"time"

	"github.com/taskvault/taskvault/internal/task"
)

// documentCache is the process-scoped read cache shared by every Gateway
// instance. An entry is valid only while the store's last-modified token
// is exactly equal to the one the entry was fetched at; there is no TTL
// inference for the document itself.
type documentCache struct {
	mu      sync.Mutex
	records []task.Record
	token   string
	valid   bool
}

var sharedCache = &documentCache{}

// get returns the cached records if the entry was fetched at exactly the
// given token.
func (c *documentCache) get(token string) ([]task.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid || token == "" || c.token != token {
		return nil, false
	}
	return cloneRecords(c.records), true
}

// put replaces the cache entry.
func (c *documentCache) put(records []task.Record, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = cloneRecords(records)
	c.token = token
	c.valid = token != ""
}

// invalidate drops the entry unconditionally.
func (c *documentCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = nil
	c.token = ""
	c.valid = false
}

// urlCache holds resolved blob download URLs. Unlike the document cache
// there is no consistency token to compare, so entries expire on the
// configured fallback session TTL instead.
type urlCache struct {
	mu      sync.Mutex
	entries map[string]urlEntry
}

type urlEntry struct {
	url       string
	fetchedAt time.Time
}

var sharedURLCache = &urlCache{}

func (c *urlCache) get(name string, ttl time.Duration, now time.Time) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[name]
	if !ok || now.Sub(e.fetchedAt) > ttl {
		return "", false
	}
	return e.url, true
}

func (c *urlCache) put(name, url string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string]urlEntry)
	}
	c.entries[name] = urlEntry{url: url, fetchedAt: now}
}

func (c *urlCache) remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, name)
}

func (c *urlCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
}

// ResetCache clears the shared caches. Called on logout so cached user
// data (records, signed download URLs) does not survive into the next
// session on the same host.
func ResetCache() {
	sharedCache.invalidate()
	sharedURLCache.clear()
}

// cloneRecords copies a record slice so cache contents can never be
// mutated through a returned reference.
func cloneRecords(recs []task.Record) []task.Record {
	if recs == nil {
		return []task.Record{}
	}
	out := make([]task.Record, len(recs))
	copy(out, recs)
	return out
}
