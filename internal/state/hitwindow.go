// Package state holds the three cross-request structures the engine is
// allowed to keep: the sliding-window signature counter, the adaptive
// clustering weights, and the recent bot-name queue. Everything else is
// per-request and dies with the Context.
package state

import (
	"hash/fnv"
	"sync"
	"time"
)

// Visit is one observed request for a signature. Only derived, non-PII
// values are retained.
type Visit struct {
	UnixMs         int64   `json:"unixMs"`
	Path           string  `json:"path"`
	BotProbability float64 `json:"botProbability"`
	IsBot          bool    `json:"isBot"`
}

// History is the window snapshot for one signature.
type History struct {
	Hits     int
	BotCount int
	Visits   []Visit // ascending by time
}

// BotRatio returns the fraction of window visits judged bot.
func (h History) BotRatio() float64 {
	if h.Hits == 0 {
		return 0
	}
	return float64(h.BotCount) / float64(h.Hits)
}

// HitWindow is the per-signature sliding counter. The in-process and the
// redis-backed implementations both satisfy it.
type HitWindow interface {
	Record(signature string, v Visit)
	History(signature string) History
}

const windowBuckets = 16
const visitsPerSignature = 64

// MemoryWindow is the default implementation: a bucketed hash map with
// per-bucket locks, age-based visit eviction, and a global signature bound
// enforced by evicting the stalest signatures first.
type MemoryWindow struct {
	span    time.Duration
	maxSigs int
	buckets [windowBuckets]windowBucket
}

type windowBucket struct {
	mu   sync.Mutex
	sigs map[string]*sigEntry
}

type sigEntry struct {
	visits   []Visit
	botCount int
	lastSeen int64
}

// NewMemoryWindow builds a window spanning `span` with at most maxSigs
// tracked signatures across all buckets.
func NewMemoryWindow(span time.Duration, maxSigs int) *MemoryWindow {
	w := &MemoryWindow{span: span, maxSigs: maxSigs}
	for i := range w.buckets {
		w.buckets[i].sigs = make(map[string]*sigEntry)
	}
	return w
}

func (w *MemoryWindow) bucket(signature string) *windowBucket {
	h := fnv.New32a()
	h.Write([]byte(signature))
	return &w.buckets[h.Sum32()%windowBuckets]
}

// Record appends a visit and prunes anything older than the window span.
func (w *MemoryWindow) Record(signature string, v Visit) {
	if v.UnixMs == 0 {
		v.UnixMs = time.Now().UnixMilli()
	}
	b := w.bucket(signature)
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.sigs[signature]
	if !ok {
		if len(b.sigs) >= w.maxSigs/windowBuckets {
			evictStalest(b.sigs)
		}
		e = &sigEntry{}
		b.sigs[signature] = e
	}
	e.visits = append(e.visits, v)
	if v.IsBot {
		e.botCount++
	}
	e.lastSeen = v.UnixMs

	cutoff := v.UnixMs - w.span.Milliseconds()
	e.prune(cutoff)
	if len(e.visits) > visitsPerSignature {
		drop := e.visits[:len(e.visits)-visitsPerSignature]
		for i := range drop {
			if drop[i].IsBot {
				e.botCount--
			}
		}
		e.visits = append([]Visit(nil), e.visits[len(e.visits)-visitsPerSignature:]...)
	}
}

// History returns a snapshot of the signature's pruned window.
func (w *MemoryWindow) History(signature string) History {
	b := w.bucket(signature)
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.sigs[signature]
	if !ok {
		return History{}
	}
	e.prune(time.Now().UnixMilli() - w.span.Milliseconds())
	if len(e.visits) == 0 {
		delete(b.sigs, signature)
		return History{}
	}
	out := History{
		Hits:     len(e.visits),
		BotCount: e.botCount,
		Visits:   append([]Visit(nil), e.visits...),
	}
	return out
}

// prune drops visits older than cutoff, keeping botCount consistent.
func (e *sigEntry) prune(cutoffMs int64) {
	i := 0
	for i < len(e.visits) && e.visits[i].UnixMs < cutoffMs {
		if e.visits[i].IsBot {
			e.botCount--
		}
		i++
	}
	if i > 0 {
		e.visits = append([]Visit(nil), e.visits[i:]...)
	}
}

func evictStalest(sigs map[string]*sigEntry) {
	var victim string
	var oldest int64 = 1<<63 - 1
	for sig, e := range sigs {
		if e.lastSeen < oldest {
			oldest = e.lastSeen
			victim = sig
		}
	}
	if victim != "" {
		delete(sigs, victim)
	}
}
