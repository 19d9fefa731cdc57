package main

import (
	"testing"
	"time"
)

func TestPercentileNearestRank(t *testing.T) {
	sorted := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
		400 * time.Millisecond,
		1 * time.Second,
	}
	if got := percentile(sorted, 0.50); got != 300*time.Millisecond {
		t.Fatalf("p50 = %v, want 300ms", got)
	}
	if got := percentile(sorted, 0.95); got != 1*time.Second {
		t.Fatalf("p95 = %v, want 1s", got)
	}
	if got := percentile(nil, 0.95); got != 0 {
		t.Fatalf("empty percentile = %v, want 0", got)
	}
	if got := percentile(sorted[:1], 0.01); got != 100*time.Millisecond {
		t.Fatalf("low percentile of singleton = %v, want 100ms", got)
	}
}
