// Package signals holds the per-request detection context: the blackboard
// of typed signals, the accumulated contributions, and the learning sink.
package signals

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/perimeterlab/botshield-engine/pkg/models"
)

// Context is the per-request scratchpad. Detectors inside one wave write
// concurrently; a publish barrier at the wave boundary makes their signals
// visible to the next wave. Reads only ever see published signals, which is
// what enforces the rule that a detector may not observe its wave-mates.
//
// Lifecycle: created at middleware entry, populated monotonically, consumed
// by the aggregator, released at response completion. Never reused.
type Context struct {
	ID          string
	Fingerprint *models.Fingerprint

	// PrimarySignature is the HMAC correlate of (UA, IP, path). It is the
	// only request-derived value that may cross request boundaries.
	PrimarySignature string

	StartedAt time.Time

	mu            sync.Mutex
	published     map[string]models.SignalValue
	pending       map[string]pendingWrite
	contributions []models.Contribution
	learning      []models.LearningRecord
}

type pendingWrite struct {
	value  models.SignalValue
	writer string
}

// NewContext builds a fresh context for one request.
func NewContext(id string, fp *models.Fingerprint, primarySignature string) *Context {
	return &Context{
		ID:               id,
		Fingerprint:      fp,
		PrimarySignature: primarySignature,
		StartedAt:        time.Now(),
		published:        make(map[string]models.SignalValue, 32),
		pending:          make(map[string]pendingWrite, 8),
	}
}

// SetSignal stages a write-once signal under the given key. The write
// becomes visible only after the next publish barrier. A second write to
// the same key is an error: the first writer wins and the conflict is
// logged, not propagated.
func (c *Context) SetSignal(writer, key string, value models.SignalValue) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.pending[key]; ok {
		log.Printf("[Context] signal conflict on %q: kept %s, dropped %s", key, prev.writer, writer)
		return fmt.Errorf("signal %q already written by %s", key, prev.writer)
	}
	if _, ok := c.published[key]; ok {
		log.Printf("[Context] signal conflict on %q: already published, dropped %s", key, writer)
		return fmt.Errorf("signal %q already published", key)
	}
	c.pending[key] = pendingWrite{value: value, writer: writer}
	return nil
}

// SeedSignal publishes an input-stage signal immediately, bypassing the
// barrier. Only the pipeline's input stage uses this, before wave 0 starts.
func (c *Context) SeedSignal(key string, value models.SignalValue) {
	c.mu.Lock()
	c.published[key] = value
	c.mu.Unlock()
}

// PublishBarrier flips all staged signals into the published set. Called by
// the orchestrator at every wave boundary.
func (c *Context) PublishBarrier() {
	c.mu.Lock()
	for k, w := range c.pending {
		c.published[k] = w.value
	}
	c.pending = make(map[string]pendingWrite, 8)
	c.mu.Unlock()
}

// GetSignal returns the published value for a key. The second return is
// false when the key is absent (or still staged behind the barrier).
func (c *Context) GetSignal(key string) (models.SignalValue, bool) {
	c.mu.Lock()
	v, ok := c.published[key]
	c.mu.Unlock()
	return v, ok
}

// Bool reads a published boolean signal; absent or mistyped keys read as
// false. The zero-value contract keeps detector code branch-light.
func (c *Context) Bool(key string) bool {
	v, _ := c.GetSignal(key)
	return v.AsBool()
}

// Real reads a published numeric signal (real or int); zero otherwise.
func (c *Context) Real(key string) float64 {
	v, _ := c.GetSignal(key)
	return v.AsReal()
}

// Str reads a published string signal; "" otherwise.
func (c *Context) Str(key string) string {
	v, _ := c.GetSignal(key)
	return v.AsString()
}

// SignalKeys returns the published keys in sorted order.
func (c *Context) SignalKeys() []string {
	c.mu.Lock()
	keys := make([]string, 0, len(c.published))
	for k := range c.published {
		keys = append(keys, k)
	}
	c.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// SignalRecords exports the published blackboard for the final evidence.
func (c *Context) SignalRecords() []models.SignalRecord {
	keys := c.SignalKeys()
	records := make([]models.SignalRecord, 0, len(keys))
	c.mu.Lock()
	for _, k := range keys {
		records = append(records, models.SignalRecord{Key: k, Value: c.published[k]})
	}
	c.mu.Unlock()
	return records
}

// RecordContribution appends a detector's contribution. The weighted score
// is recomputed here; producer-supplied values are not trusted.
func (c *Context) RecordContribution(contrib models.Contribution) {
	contrib.Normalize()
	c.mu.Lock()
	c.contributions = append(c.contributions, contrib)
	c.mu.Unlock()
}

// Contributions returns a copy of all recorded contributions.
func (c *Context) Contributions() []models.Contribution {
	c.mu.Lock()
	out := make([]models.Contribution, len(c.contributions))
	copy(out, c.contributions)
	c.mu.Unlock()
	return out
}

// MaxWeightedScore returns the strongest bot-leaning weighted score, or 0
// when no contribution leans bot. Risk banding keys off this value.
func (c *Context) MaxWeightedScore() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	max := 0.0
	for i := range c.contributions {
		if c.contributions[i].WeightedScore > max {
			max = c.contributions[i].WeightedScore
		}
	}
	return max
}

// AddLearning appends an offline-training feature record. Consumed by the
// learning store after evaluation; the engine itself never reads these.
func (c *Context) AddLearning(rec models.LearningRecord) {
	if rec.UnixMs == 0 {
		rec.UnixMs = time.Now().UnixMilli()
	}
	if rec.Signature == "" {
		rec.Signature = c.PrimarySignature
	}
	c.mu.Lock()
	c.learning = append(c.learning, rec)
	c.mu.Unlock()
}

// LearningRecords drains the learning sink.
func (c *Context) LearningRecords() []models.LearningRecord {
	c.mu.Lock()
	out := c.learning
	c.learning = nil
	c.mu.Unlock()
	return out
}

// ElapsedMs returns wall-clock milliseconds since context creation.
func (c *Context) ElapsedMs() int64 {
	return time.Since(c.StartedAt).Milliseconds()
}
