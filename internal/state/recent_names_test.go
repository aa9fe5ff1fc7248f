package state

import (
	"fmt"
	"testing"
)

func TestRecentNames_Deduplication(t *testing.T) {
	q := NewRecentNames(200)

	if !q.TryAdd("CurlHarvester") {
		t.Fatalf("First use of a name should be accepted")
	}
	if q.TryAdd("CurlHarvester") {
		t.Errorf("Duplicate name should be rejected while still queued")
	}
	if q.TryAdd("") {
		t.Errorf("Empty name should never be accepted")
	}
}

func TestRecentNames_BoundedOldestFirst(t *testing.T) {
	q := NewRecentNames(200)

	for i := 0; i < 250; i++ {
		q.TryAdd(fmt.Sprintf("name-%d", i))
	}
	if q.Len() != 200 {
		t.Fatalf("Queue must never exceed 200 entries, got %d", q.Len())
	}

	// The first 50 names aged out, so they are usable again.
	if !q.TryAdd("name-0") {
		t.Errorf("Aged-out name should be accepted again")
	}
	// A recent one is still held.
	if q.TryAdd("name-249") {
		t.Errorf("Recent name should still be rejected")
	}
}
