package memory

import (
	"container/list"
	"context"
	"errors"
	"sync"

	"github.com/ftmlabs/bknmu-notifier/internal/translate"
)

const defaultCacheEntries = 1000

// TranslationCache is a bounded in-process LRU keyed by source-text hash.
// Recently used entries sit at the front of the list; inserts beyond the
// bound evict from the back.
type TranslationCache struct {
	mu    sync.Mutex
	cap   int
	ll    *list.List
	items map[string]*list.Element
}

type cacheEntry struct {
	key  string
	text string
}

// NewTranslationCache constructs a cache bounded to maxEntries.
func NewTranslationCache(maxEntries int) *TranslationCache {
	if maxEntries <= 0 {
		maxEntries = defaultCacheEntries
	}
	return &TranslationCache{
		cap:   maxEntries,
		ll:    list.New(),
		items: make(map[string]*list.Element, maxEntries),
	}
}

// Lookup returns the cached rendering of the keyed source text and marks it
// recently used.
func (c *TranslationCache) Lookup(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return "", false, nil
	}
	c.ll.MoveToFront(el)
	return el.Value.(cacheEntry).text, true, nil
}

// Store inserts or refreshes one entry, evicting the least recently used
// entries once the bound is exceeded.
func (c *TranslationCache) Store(_ context.Context, e translate.Entry) error {
	if e.Key == "" {
		return errors.New("cache key is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[e.Key]; ok {
		el.Value = cacheEntry{key: e.Key, text: e.TranslatedText}
		c.ll.MoveToFront(el)
		return nil
	}

	el := c.ll.PushFront(cacheEntry{key: e.Key, text: e.TranslatedText})
	c.items[e.Key] = el
	for c.ll.Len() > c.cap {
		tail := c.ll.Back()
		if tail == nil {
			break
		}
		c.ll.Remove(tail)
		delete(c.items, tail.Value.(cacheEntry).key)
	}
	return nil
}

// Size returns the number of cached translations.
func (c *TranslationCache) Size(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(c.ll.Len()), nil
}
