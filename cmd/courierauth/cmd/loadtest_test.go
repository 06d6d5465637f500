package cmd

import (
	"testing"
	"time"
)

func TestPercentileBounds(t *testing.T) {
	samples := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := percentile(samples, 0); got != 1 {
		t.Fatalf("p0 = %v, want 1", got)
	}
	if got := percentile(samples, 100); got != 10 {
		t.Fatalf("p100 = %v, want 10", got)
	}
	if got := percentile(samples, 50); got != 5 {
		t.Fatalf("p50 = %v, want 5", got)
	}
	if got := percentile(nil, 50); got != 0 {
		t.Fatalf("empty p50 = %v, want 0", got)
	}
}

func TestSessionHashDistinctPerGeneration(t *testing.T) {
	if sessionHash(1, 0) == sessionHash(1, 1) {
		t.Fatal("expected generations to produce distinct hashes")
	}
	if len(sessionHash(7, 3)) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(sessionHash(7, 3)))
	}
}
