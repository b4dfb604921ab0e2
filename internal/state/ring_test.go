package state

import (
	"fmt"
	"testing"
)

func TestRingPushBelowCapacity(t *testing.T) {
	r := NewMessageRing(5)
	for i := 0; i < 3; i++ {
		r.Push(Message{Key: fmt.Sprintf("k%d", i)})
	}
	if r.Len() != 3 {
		t.Errorf("Len = %d, want 3", r.Len())
	}
	msgs := r.Messages()
	for i, m := range msgs {
		if want := fmt.Sprintf("k%d", i); m.Key != want {
			t.Errorf("msgs[%d].Key = %q, want %q", i, m.Key, want)
		}
	}
}

func TestRingEvictsOldest(t *testing.T) {
	r := NewMessageRing(3)
	for i := 0; i < 7; i++ {
		r.Push(Message{Key: fmt.Sprintf("k%d", i)})
	}
	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}
	msgs := r.Messages()
	want := []string{"k4", "k5", "k6"}
	for i, m := range msgs {
		if m.Key != want[i] {
			t.Errorf("msgs[%d].Key = %q, want %q", i, m.Key, want[i])
		}
	}
	if r.Has("k3") {
		t.Error("evicted key still reported")
	}
	if !r.Has("k6") {
		t.Error("latest key missing")
	}
}

func TestRingZeroCapacityFallsBack(t *testing.T) {
	r := NewMessageRing(0)
	if r.Cap() != DefaultHistory {
		t.Errorf("Cap = %d, want %d", r.Cap(), DefaultHistory)
	}
}
