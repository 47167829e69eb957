package cache

import (
	"testing"
	"time"
)

func TestToolCacheKey_CreatesKey(t *testing.T) {
	key := NewToolCacheKey("grep", "pattern=test", "/workspace")
	if key.Tool != "grep" {
		t.Fatalf("Tool = %q, want grep", key.Tool)
	}
	if key.TargetPath != "/workspace" {
		t.Fatalf("TargetPath = %q, want /workspace", key.TargetPath)
	}
}

func TestToolCacheKey_FromJSONAndNewEquivalence(t *testing.T) {
	params := map[string]any{"a": 1, "b": []any{1, 2, 3}}
	paramsStr := `{"a":1,"b":[1,2,3]}`

	k1 := NewToolCacheKey("tool", paramsStr, "/workspace")
	k2 := NewToolCacheKeyFromJSON("tool", params, "/workspace")

	// Both hash canonicalized JSON bytes of the same logical value, so the
	// resulting keys should match when params serializes identically.
	if k1.Tool != k2.Tool || k1.TargetPath != k2.TargetPath {
		t.Fatalf("key mismatch: %+v vs %+v", k1, k2)
	}
}

func TestToolResultCache_CachesAndRetrievesResult(t *testing.T) {
	cache := NewToolResultCache(10)
	key := NewToolCacheKey("grep", "pattern=test", "/workspace")
	output := "line 1\nline 2"

	cache.Insert(key, output)
	got, ok := cache.Get(key)
	if !ok || got != output {
		t.Fatalf("Get() = (%q, %v), want (%q, true)", got, ok, output)
	}
}

func TestToolResultCache_ReturnsNoneForMissingKey(t *testing.T) {
	cache := NewToolResultCache(10)
	key := NewToolCacheKey("grep", "pattern=test", "/workspace")
	if _, ok := cache.Get(key); ok {
		t.Fatal("expected miss for unset key")
	}
}

func TestToolResultCache_EvictsLeastRecentlyUsed(t *testing.T) {
	cache := NewToolResultCache(3)

	key1 := NewToolCacheKey("tool", "p1", "/a")
	key2 := NewToolCacheKey("tool", "p2", "/b")
	key3 := NewToolCacheKey("tool", "p3", "/c")
	key4 := NewToolCacheKey("tool", "p4", "/d")

	cache.Insert(key1, "out1")
	cache.Insert(key2, "out2")
	cache.Insert(key3, "out3")
	cache.Insert(key4, "out4")

	if _, ok := cache.Get(key1); ok {
		t.Fatal("key1 should have been evicted")
	}
	if out, ok := cache.Get(key2); !ok || out != "out2" {
		t.Fatalf("key2 should remain cached, got (%q, %v)", out, ok)
	}
}

func TestToolResultCache_InvalidatesByPath(t *testing.T) {
	cache := NewToolResultCache(10)

	key1 := NewToolCacheKey("tool", "p1", "/workspace/file1.go")
	key2 := NewToolCacheKey("tool", "p2", "/workspace/file2.go")
	key3 := NewToolCacheKey("tool", "p3", "/other/file3.go")

	cache.Insert(key1, "out1")
	cache.Insert(key2, "out2")
	cache.Insert(key3, "out3")

	cache.InvalidateForPath("/workspace/file1.go")

	if _, ok := cache.Get(key1); ok {
		t.Fatal("key1 should be invalidated")
	}
	if _, ok := cache.Get(key2); !ok {
		t.Fatal("key2 should remain cached")
	}
	if _, ok := cache.Get(key3); !ok {
		t.Fatal("key3 should remain cached")
	}
}

func TestToolResultCache_TracksAccessCount(t *testing.T) {
	cache := NewToolResultCache(10)
	key := NewToolCacheKey("tool", "p1", "/a")
	cache.Insert(key, "output")

	initial := cache.Stats()
	cache.Get(key)
	cache.Get(key)
	final := cache.Stats()

	if final.Hits <= initial.Hits {
		t.Fatalf("Hits did not increase: initial=%d final=%d", initial.Hits, final.Hits)
	}
}

func TestToolResultCache_Clears(t *testing.T) {
	cache := NewToolResultCache(10)
	key := NewToolCacheKey("tool", "p1", "/a")
	cache.Insert(key, "output")

	if cache.Stats().CurrentSize != 1 {
		t.Fatalf("CurrentSize = %d, want 1", cache.Stats().CurrentSize)
	}

	cache.Clear()
	if cache.Stats().CurrentSize != 0 {
		t.Fatalf("CurrentSize after Clear = %d, want 0", cache.Stats().CurrentSize)
	}
	if _, ok := cache.Get(key); ok {
		t.Fatal("expected miss after Clear")
	}
}

func TestToolResultCache_ComputesStats(t *testing.T) {
	cache := NewToolResultCache(10)
	key1 := NewToolCacheKey("tool", "p1", "/a")
	key2 := NewToolCacheKey("tool", "p2", "/b")

	cache.Insert(key1, "out1")
	cache.Insert(key2, "out2")
	cache.Get(key1)
	cache.Get(key2)
	cache.Get(key1)

	stats := cache.Stats()
	if stats.CurrentSize != 2 {
		t.Fatalf("CurrentSize = %d, want 2", stats.CurrentSize)
	}
	if stats.MaxSize != 10 {
		t.Fatalf("MaxSize = %d, want 10", stats.MaxSize)
	}
	if stats.Hits != 3 {
		t.Fatalf("Hits = %d, want 3", stats.Hits)
	}
	if stats.Misses != 0 {
		t.Fatalf("Misses = %d, want 0", stats.Misses)
	}
}

func TestToolResultCache_GranularInvalidation(t *testing.T) {
	cache := NewToolResultCache(100)

	key1 := NewToolCacheKey("grep", "pattern=test", "/workspace/src/main.go")
	key2 := NewToolCacheKey("grep", "pattern=test", "/workspace/src/lib.go")
	key3 := NewToolCacheKey("list", "recursive=true", "/workspace/src/")

	cache.Insert(key1, "result1")
	cache.Insert(key2, "result2")
	cache.Insert(key3, "result3")

	if cache.Stats().CurrentSize != 3 {
		t.Fatalf("CurrentSize = %d, want 3", cache.Stats().CurrentSize)
	}

	cache.InvalidateForPath("/workspace/src/main.go")

	if _, ok := cache.Get(key1); ok {
		t.Fatal("key1 should be removed")
	}
	if _, ok := cache.Get(key2); !ok {
		t.Fatal("key2 should still exist (different file)")
	}
	if _, ok := cache.Get(key3); !ok {
		t.Fatal("key3 should still exist (different tool)")
	}
	if cache.Stats().CurrentSize != 2 {
		t.Fatalf("CurrentSize after invalidation = %d, want 2", cache.Stats().CurrentSize)
	}
}

func TestToolResultCache_InvalidatePrefixRemovesOnlyMatched(t *testing.T) {
	cache := NewToolResultCache(100)

	key1 := NewToolCacheKey("grep", "p1", "/workspace/a")
	key2 := NewToolCacheKey("grep", "p2", "/workspace/b")
	key3 := NewToolCacheKey("grep", "p3", "/other/c")

	cache.Insert(key1, "1")
	cache.Insert(key2, "2")
	cache.Insert(key3, "3")

	cache.InvalidateForPath("/workspace")

	if _, ok := cache.Get(key1); ok {
		t.Fatal("key1 should be removed")
	}
	if _, ok := cache.Get(key2); ok {
		t.Fatal("key2 should be removed")
	}
	if _, ok := cache.Get(key3); !ok {
		t.Fatal("key3 should remain")
	}
}

func TestToolResultCache_HitRatioPreservedAfterSelectiveInvalidation(t *testing.T) {
	cache := NewToolResultCache(100)

	for i := 0; i < 10; i++ {
		key := NewToolCacheKey("tool", "params", keyPathFor(i))
		cache.Insert(key, "result")
	}
	if cache.Stats().CurrentSize != 10 {
		t.Fatalf("CurrentSize = %d, want 10", cache.Stats().CurrentSize)
	}

	for i := 0; i < 5; i++ {
		key := NewToolCacheKey("tool", "params", keyPathFor(i))
		cache.Get(key)
	}
	hitsBefore := cache.Stats().Hits

	cache.InvalidateForPath(keyPathFor(0))

	for i := 1; i < 5; i++ {
		key := NewToolCacheKey("tool", "params", keyPathFor(i))
		if _, ok := cache.Get(key); !ok {
			t.Fatalf("entry %d should still be valid", i)
		}
	}

	stats := cache.Stats()
	if stats.CurrentSize != 9 {
		t.Fatalf("CurrentSize = %d, want 9", stats.CurrentSize)
	}
	if stats.Hits <= hitsBefore {
		t.Fatal("expected additional hits from re-accessing remaining entries")
	}
}

func keyPathFor(i int) string {
	return "/file_" + string(rune('0'+i))
}

func TestToolResultCache_TTLExpiry(t *testing.T) {
	cache := NewToolResultCacheWithTTL(10, time.Millisecond)
	key := NewToolCacheKey("tool", "p1", "/a")
	cache.Insert(key, "output")

	time.Sleep(5 * time.Millisecond)
	if _, ok := cache.Get(key); ok {
		t.Fatal("expected entry to have expired")
	}
}

func TestToolResultCache_MemoryPressureEviction(t *testing.T) {
	cache := NewToolResultCache(0) // unbounded capacity, pressure-driven only
	big := string(make([]byte, 6*1024*1024))
	for i := 0; i < 10; i++ {
		key := NewToolCacheKey("tool", "p", keyPathFor(i))
		cache.Insert(key, big)
	}
	before := cache.Stats().CurrentSize
	cache.CheckPressureAndEvict()
	after := cache.Stats().CurrentSize
	if after >= before {
		t.Fatalf("expected eviction under memory pressure: before=%d after=%d", before, after)
	}
}

func TestSimilarity_IdenticalValuesScoreOne(t *testing.T) {
	a := map[string]any{"x": 1}
	b := map[string]any{"x": 1}
	if score := Similarity(a, b); score != 1.0 {
		t.Fatalf("Similarity(identical) = %v, want 1.0", score)
	}
}

func TestSimilarity_EmptyValuesScoreZero(t *testing.T) {
	if score := Similarity("", ""); score != 0 {
		t.Fatalf("Similarity(empty) = %v, want 0", score)
	}
}

func TestToolResultCache_FuzzyMatchReusesSimilarEntry(t *testing.T) {
	cache := NewToolResultCacheWithFuzzyMatching(10, 0.5)
	key1 := NewToolCacheKeyFromJSON("grep", map[string]any{"pattern": "foo"}, "/workspace")
	cache.InsertWithParams(key1, map[string]any{"pattern": "foo"}, "result-foo")

	key2 := NewToolCacheKeyFromJSON("grep", map[string]any{"pattern": "fop"}, "/workspace")
	if !cache.IsFuzzyEnabled() {
		t.Fatal("expected fuzzy matching to be enabled")
	}
	output, ok := cache.GetFuzzy(key2, map[string]any{"pattern": "fop"})
	if !ok || output != "result-foo" {
		t.Fatalf("GetFuzzy() = (%q, %v), want a fuzzy hit on result-foo", output, ok)
	}
}
