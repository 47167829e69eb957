package cache

import (
	"container/list"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultResultCacheTTL matches the retention window read-only tool output
// stays valid for before a fresh call is required.
const DefaultResultCacheTTL = 5 * time.Minute

// resultCacheMemoryThreshold triggers eviction once tracked output size
// crosses this many bytes.
const resultCacheMemoryThreshold = 50 * 1024 * 1024

// resultCacheEvictPercent is the fraction of entries removed once the
// memory threshold is crossed.
const resultCacheEvictPercent = 30

// ToolCacheKey identifies a cached tool result by tool name, a hash of its
// normalized parameters, and the path it was run against.
type ToolCacheKey struct {
	Tool       string
	ParamsHash uint64
	TargetPath string
}

// String renders the key in the "{tool}:{params_hash}:{target_path}" form
// used both as the map key and for substring-based path invalidation.
func (k ToolCacheKey) String() string {
	return fmt.Sprintf("%s:%d:%s", k.Tool, k.ParamsHash, k.TargetPath)
}

// NewToolCacheKey hashes a raw parameter string into a cache key.
func NewToolCacheKey(tool, params, targetPath string) ToolCacheKey {
	h := fnv.New64a()
	h.Write([]byte(params))
	return ToolCacheKey{Tool: tool, ParamsHash: h.Sum64(), TargetPath: targetPath}
}

// NewToolCacheKeyFromJSON hashes canonicalized JSON bytes, falling back to
// the value's default string form if marshaling fails.
func NewToolCacheKeyFromJSON(tool string, params any, targetPath string) ToolCacheKey {
	h := fnv.New64a()
	if bytes, err := json.Marshal(params); err == nil {
		h.Write(bytes)
	} else {
		h.Write([]byte(fmt.Sprintf("%v", params)))
	}
	return ToolCacheKey{Tool: tool, ParamsHash: h.Sum64(), TargetPath: targetPath}
}

// Similarity scores two JSON-compatible values by character-position
// agreement across their canonicalized string forms, divided by the
// shorter string's length. 1.0 means identical, 0.0 means no overlap.
func Similarity(a, b any) float64 {
	aStr := canonicalizeJSON(a)
	bStr := canonicalizeJSON(b)

	minLen := len(aStr)
	if len(bStr) < minLen {
		minLen = len(bStr)
	}
	if minLen == 0 {
		return 0
	}

	matches := 0
	for i := 0; i < minLen; i++ {
		if aStr[i] == bStr[i] {
			matches++
		}
	}
	return float64(matches) / float64(minLen)
}

func canonicalizeJSON(v any) string {
	switch value := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(value))
		for k := range value {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s:%v", k, value[k]))
		}
		return "{" + strings.Join(parts, ",") + "}"
	case []any:
		parts := make([]string, 0, len(value))
		for _, item := range value {
			parts = append(parts, fmt.Sprintf("%v", item))
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return fmt.Sprintf("%v", value)
	}
}

// ResultCacheStats reports cache occupancy and hit/miss counters.
type ResultCacheStats struct {
	CurrentSize int
	MaxSize     int
	Hits        int64
	Misses      int64
}

type resultCacheEntry struct {
	key       ToolCacheKey
	params    any // raw params value, kept only to support fuzzy matching
	output    string
	sizeBytes int64
	expiresAt time.Time
}

// ToolResultCache caches read-only tool output for the lifetime of a
// session, with LRU eviction by capacity, TTL expiry, memory-pressure
// eviction, and substring-based path invalidation. Optional fuzzy matching
// lets a lookup reuse a near-identical prior result.
type ToolResultCache struct {
	mu             sync.Mutex
	capacity       int
	ttl            time.Duration
	entries        map[string]*list.Element // key string -> list element
	order          *list.List                // front = most recently used
	totalBytes     int64
	fuzzyThreshold float64 // <0 means fuzzy matching disabled
	hits           int64
	misses         int64
}

// NewToolResultCache creates a cache with the given capacity and the
// default TTL, fuzzy matching disabled.
func NewToolResultCache(capacity int) *ToolResultCache {
	return NewToolResultCacheWithTTL(capacity, DefaultResultCacheTTL)
}

// NewToolResultCacheWithTTL creates a cache with an explicit TTL.
func NewToolResultCacheWithTTL(capacity int, ttl time.Duration) *ToolResultCache {
	return &ToolResultCache{
		capacity:       capacity,
		ttl:            ttl,
		entries:        make(map[string]*list.Element),
		order:          list.New(),
		fuzzyThreshold: -1,
	}
}

// NewToolResultCacheWithFuzzyMatching creates a cache with fuzzy matching
// enabled; threshold is clamped to [0, 1]. Higher means stricter matching.
func NewToolResultCacheWithFuzzyMatching(capacity int, threshold float64) *ToolResultCache {
	c := NewToolResultCache(capacity)
	if threshold < 0 {
		threshold = 0
	}
	if threshold > 1 {
		threshold = 1
	}
	c.fuzzyThreshold = threshold
	return c
}

// IsFuzzyEnabled reports whether fuzzy matching is configured.
func (c *ToolResultCache) IsFuzzyEnabled() bool {
	return c.fuzzyThreshold >= 0
}

// Insert stores output under key, evicting the least-recently-used entry
// if the cache is at capacity.
func (c *ToolResultCache) Insert(key ToolCacheKey, output string) {
	c.InsertWithParams(key, nil, output)
}

// InsertWithParams stores output under key, retaining the raw params value
// so GetFuzzy can compare it against later lookups.
func (c *ToolResultCache) InsertWithParams(key ToolCacheKey, params any, output string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(key, params, output)
}

func (c *ToolResultCache) insertLocked(key ToolCacheKey, params any, output string) {
	keyStr := key.String()
	if el, ok := c.entries[keyStr]; ok {
		entry := el.Value.(*resultCacheEntry)
		c.totalBytes -= entry.sizeBytes
		entry.params = params
		entry.output = output
		entry.sizeBytes = int64(len(output))
		entry.expiresAt = c.expiry()
		c.totalBytes += entry.sizeBytes
		c.order.MoveToFront(el)
		return
	}

	entry := &resultCacheEntry{
		key:       key,
		params:    params,
		output:    output,
		sizeBytes: int64(len(output)),
		expiresAt: c.expiry(),
	}
	el := c.order.PushFront(entry)
	c.entries[keyStr] = el
	c.totalBytes += entry.sizeBytes

	for c.capacity > 0 && len(c.entries) > c.capacity {
		c.evictOldestLocked()
	}
}

func (c *ToolResultCache) expiry() time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.ttl)
}

func (c *ToolResultCache) evictOldestLocked() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	entry := oldest.Value.(*resultCacheEntry)
	c.order.Remove(oldest)
	delete(c.entries, entry.key.String())
	c.totalBytes -= entry.sizeBytes
}

// Get returns the cached output for key if present and unexpired.
func (c *ToolResultCache) Get(key ToolCacheKey) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key.String()]
	if !ok {
		c.misses++
		return "", false
	}
	entry := el.Value.(*resultCacheEntry)
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.order.Remove(el)
		delete(c.entries, key.String())
		c.totalBytes -= entry.sizeBytes
		c.misses++
		return "", false
	}

	c.order.MoveToFront(el)
	c.hits++
	return entry.output, true
}

// GetFuzzy looks for an exact hit first, then — if fuzzy matching is
// enabled — the most similar cached entry for the same tool and target
// path whose params clear the configured similarity threshold.
func (c *ToolResultCache) GetFuzzy(key ToolCacheKey, params any) (string, bool) {
	if output, ok := c.Get(key); ok {
		return output, true
	}
	if !c.IsFuzzyEnabled() {
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var best *resultCacheEntry
	var bestScore float64
	for el := c.order.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*resultCacheEntry)
		if entry.key.Tool != key.Tool || entry.key.TargetPath != key.TargetPath {
			continue
		}
		if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
			continue
		}
		if entry.params == nil {
			continue
		}
		score := Similarity(entry.params, params)
		if score >= c.fuzzyThreshold && score > bestScore {
			best = entry
			bestScore = score
		}
	}
	if best == nil {
		c.misses++
		return "", false
	}
	c.order.MoveToFront(c.entries[best.key.String()])
	c.hits++
	return best.output, true
}

// InvalidateForPath evicts every entry whose key contains path as a
// substring — a deliberately coarse match against "{tool}:{hash}:{path}".
func (c *ToolResultCache) InvalidateForPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*list.Element
	for keyStr, el := range c.entries {
		if strings.Contains(keyStr, path) {
			toRemove = append(toRemove, el)
		}
	}
	for _, el := range toRemove {
		entry := el.Value.(*resultCacheEntry)
		c.order.Remove(el)
		delete(c.entries, entry.key.String())
		c.totalBytes -= entry.sizeBytes
	}
}

// Clear removes every entry.
func (c *ToolResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order = list.New()
	c.totalBytes = 0
}

// CheckPressureAndEvict removes the oldest resultCacheEvictPercent of
// entries once tracked size crosses resultCacheMemoryThreshold.
func (c *ToolResultCache) CheckPressureAndEvict() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.totalBytes <= resultCacheMemoryThreshold {
		return
	}
	toEvict := len(c.entries) * resultCacheEvictPercent / 100
	for i := 0; i < toEvict; i++ {
		c.evictOldestLocked()
	}
}

// Stats reports current occupancy and hit/miss counters.
func (c *ToolResultCache) Stats() ResultCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ResultCacheStats{
		CurrentSize: len(c.entries),
		MaxSize:     c.capacity,
		Hits:        c.hits,
		Misses:      c.misses,
	}
}
