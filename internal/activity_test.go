package internal

import (
	"reflect"
	"testing"
)

func TestActivitySetAndRemove(t *testing.T) {
	tracker := NewActivityTracker()
	tracker.Set("alice", DefaultActivity)
	tracker.Set("alice", "Playing Purple Rain by Prince")

	label, ok := tracker.Get("alice")
	if !ok || label != "Playing Purple Rain by Prince" {
		t.Fatalf("unexpected label: %q ok=%v", label, ok)
	}

	tracker.Remove("alice")
	if _, ok := tracker.Get("alice"); ok {
		t.Fatalf("expected alice removed from tracker")
	}
}

func TestActivitySnapshotStable(t *testing.T) {
	tracker := NewActivityTracker()
	tracker.Set("carol", "Idle")
	tracker.Set("alice", "Playing something")
	tracker.Set("bob", "Idle")

	want := [][2]string{
		{"alice", "Playing something"},
		{"bob", "Idle"},
		{"carol", "Idle"},
	}
	if got := tracker.Snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("snapshot = %v, want %v", got, want)
	}
	// same content twice in a row
	if got := tracker.Snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("second snapshot differs: %v", got)
	}
}

func TestActivitySetIdempotent(t *testing.T) {
	tracker := NewActivityTracker()
	tracker.Set("alice", "Idle")
	before := tracker.Snapshot()
	tracker.Set("alice", "Idle")
	if got := tracker.Snapshot(); !reflect.DeepEqual(got, before) {
		t.Fatalf("repeated set changed snapshot: %v vs %v", got, before)
	}
}
