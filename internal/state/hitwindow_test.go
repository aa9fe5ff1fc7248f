package state

import (
	"testing"
	"time"
)

func TestMemoryWindow_RecordAndHistory(t *testing.T) {
	w := NewMemoryWindow(5*time.Minute, 1000)
	now := time.Now().UnixMilli()

	w.Record("sig-a", Visit{UnixMs: now - 2000, Path: "/a", IsBot: true})
	w.Record("sig-a", Visit{UnixMs: now - 1000, Path: "/b", IsBot: false})
	w.Record("sig-b", Visit{UnixMs: now, Path: "/c", IsBot: false})

	h := w.History("sig-a")
	if h.Hits != 2 {
		t.Fatalf("Expected 2 hits for sig-a, got %d", h.Hits)
	}
	if h.BotCount != 1 {
		t.Errorf("Expected 1 bot visit, got %d", h.BotCount)
	}
	if got := h.BotRatio(); got != 0.5 {
		t.Errorf("Expected bot ratio 0.5, got %g", got)
	}
	if w.History("sig-b").Hits != 1 {
		t.Errorf("Signatures must not share histories")
	}
	if w.History("sig-unknown").Hits != 0 {
		t.Errorf("Unknown signature should have empty history")
	}
}

func TestMemoryWindow_AgeEviction(t *testing.T) {
	w := NewMemoryWindow(1*time.Minute, 1000)
	now := time.Now().UnixMilli()

	w.Record("sig", Visit{UnixMs: now - 5*60*1000, Path: "/stale", IsBot: true})
	w.Record("sig", Visit{UnixMs: now, Path: "/fresh"})

	h := w.History("sig")
	if h.Hits != 1 {
		t.Fatalf("Expected stale visit evicted, got %d hits", h.Hits)
	}
	if h.Visits[0].Path != "/fresh" {
		t.Errorf("Expected only the fresh visit to remain")
	}
	if h.BotCount != 0 {
		t.Errorf("Eviction must keep botCount consistent, got %d", h.BotCount)
	}
}

func TestMemoryWindow_VisitBound(t *testing.T) {
	w := NewMemoryWindow(time.Hour, 1000)
	now := time.Now().UnixMilli()

	for i := 0; i < visitsPerSignature+20; i++ {
		w.Record("sig", Visit{UnixMs: now + int64(i), Path: "/x", IsBot: true})
	}
	h := w.History("sig")
	if h.Hits != visitsPerSignature {
		t.Errorf("Expected per-signature bound %d, got %d", visitsPerSignature, h.Hits)
	}
	if h.BotCount != h.Hits {
		t.Errorf("Bot count should track retained visits: %d vs %d", h.BotCount, h.Hits)
	}
}

func TestMemoryWindow_SignatureBound(t *testing.T) {
	// 16 buckets × 2 signatures per bucket.
	w := NewMemoryWindow(time.Hour, 32)
	now := time.Now().UnixMilli()

	for i := 0; i < 200; i++ {
		sig := "sig-" + string(rune('a'+i%26)) + string(rune('a'+i/26))
		w.Record(sig, Visit{UnixMs: now + int64(i)})
	}

	tracked := 0
	for i := range w.buckets {
		w.buckets[i].mu.Lock()
		tracked += len(w.buckets[i].sigs)
		w.buckets[i].mu.Unlock()
	}
	if tracked > 32+windowBuckets {
		t.Errorf("Expected signature population bounded near 32, got %d", tracked)
	}
}
