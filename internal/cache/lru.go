// Package cache implements the Response Cache (spec.md §4.8): a bounded
// least-recently-used cache keyed on a digest of the question and
// conversation context.
//
// The teacher's cache.QueryCache used a map plus a separately maintained
// order slice for eviction, which the source system's own _cache /
// _cache_order pair (original_source/backend/src/rag_pipeline.py) showed to
// be a correctness hazard: the two structures can drift out of sync under
// concurrent access. This implementation keeps a single mutex guarding one
// container/list.List plus one map, so there is exactly one source of
// truth for recency order.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/sage-edu/rag-core/internal/model"
)

const defaultCapacity = 100

type entry struct {
	key   string
	value model.CacheEntry
}

// LRU is a bounded, thread-safe least-recently-used cache.
type LRU struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

// New constructs an LRU with the given capacity. A non-positive capacity
// falls back to the default of 100 entries.
func New(capacity int) *LRU {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &LRU{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

// NewDisabled constructs an LRU that never stores anything: every Get is a
// miss and every Set is a no-op. Used when ENABLE_CACHING=false (spec.md
// §6) without threading a separate enabled flag through the Coordinator.
func NewDisabled() *LRU {
	return &LRU{capacity: -1, ll: list.New(), items: make(map[string]*list.Element)}
}

// Get looks up a cached answer, promoting it to most-recently-used on hit.
func (c *LRU) Get(key string) (model.CacheEntry, bool) {
	if c.capacity < 0 {
		return model.CacheEntry{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return model.CacheEntry{}, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*entry).value, true
}

// Set inserts or updates a cached answer, evicting the least-recently-used
// entry if the cache is at capacity.
func (c *LRU) Set(key string, value model.CacheEntry) {
	if c.capacity < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*entry).value = value
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&entry{key: key, value: value})
	c.items[key] = el

	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*entry).key)
		}
	}
}

// Clear empties the cache and reports how many entries were evicted, per
// spec.md §4.8's "clear() returns count evicted".
func (c *LRU) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.ll.Len()
	c.ll.Init()
	c.items = make(map[string]*list.Element, c.capacity)
	return n
}

// Size returns the current number of entries.
func (c *LRU) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// maxCacheKeyHistoryTurns is the number of trailing conversation turns the
// cache key digest considers, matching internal/service/prompt.go's
// buildConversationBlock truncation (spec.md: "the controller considers
// only the last five turns when ... computing the cache key digest").
const maxCacheKeyHistoryTurns = 5

// Key derives a cache key from the class, question, and conversation
// history, per spec.md §4.8: "<class_tag>:<hash(question)>:<hash(history)>",
// with the question lower-cased and trimmed before hashing so that
// whitespace or casing differences do not cause spurious misses. Only the
// last maxCacheKeyHistoryTurns turns of history are hashed, so two
// conversations that agree on their most recent turns share a cache key
// regardless of how far back they diverge.
func Key(classTag string, question string, history []model.ConversationTurn) string {
	normalizedQuestion := strings.ToLower(strings.TrimSpace(question))
	questionHash := shortHash(normalizedQuestion)

	recent := history
	if len(recent) > maxCacheKeyHistoryTurns {
		recent = recent[len(recent)-maxCacheKeyHistoryTurns:]
	}

	var sb strings.Builder
	for _, turn := range recent {
		sb.WriteString(string(turn.Role))
		sb.WriteByte(':')
		sb.WriteString(turn.Content)
		sb.WriteByte('\n')
	}
	historyHash := shortHash(sb.String())

	return fmt.Sprintf("%s:%s:%s", classTag, questionHash, historyHash)
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
