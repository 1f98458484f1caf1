package ratelimiter

import (
	"sync"
	"testing"
	"time"
)

// TestNew verifies limiter creation with different parameters.
func TestNew(t *testing.T) {
	tests := []struct {
		name  string
		rate  float64
		burst uint
	}{
		{name: "standard rate", rate: 100, burst: 200},
		{name: "fractional rate", rate: 0.5, burst: 1},
		{name: "zero burst", rate: 10, burst: 0},
		{name: "unlimited (zero rate)", rate: 0, burst: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.rate, tt.burst)
			if limiter == nil {
				t.Fatal("New() returned nil")
			}
			if !limiter.Allow() {
				t.Fatal("first event should always be allowed")
			}
		})
	}
}

// TestAllow verifies that Allow() enforces the burst then replenishes.
func TestAllow(t *testing.T) {
	limiter := New(10, 10)

	for i := 0; i < 10; i++ {
		if !limiter.Allow() {
			t.Fatalf("event %d should be allowed (within burst)", i)
		}
	}

	if limiter.Allow() {
		t.Fatal("event should be limited after burst exhausted")
	}

	time.Sleep(110 * time.Millisecond)

	if !limiter.Allow() {
		t.Fatal("event should be allowed after token replenishment")
	}
}

// TestUnlimited verifies that a zero rate never limits.
func TestUnlimited(t *testing.T) {
	limiter := New(0, 0)
	for i := 0; i < 10000; i++ {
		if !limiter.Allow() {
			t.Fatalf("event %d should be allowed when unlimited", i)
		}
	}
}

// TestKeyedIsolation verifies that one key's burst does not affect another.
func TestKeyedIsolation(t *testing.T) {
	k := NewKeyed[uint32](1, 1, 16)

	if !k.Allow(1) {
		t.Fatal("first event for key 1 should be allowed")
	}
	if k.Allow(1) {
		t.Fatal("second event for key 1 should be limited")
	}
	if !k.Allow(2) {
		t.Fatal("first event for key 2 should be allowed")
	}
	if k.Len() != 2 {
		t.Fatalf("expected 2 tracked keys, got %d", k.Len())
	}
}

// TestKeyedReset verifies the table is bounded.
func TestKeyedReset(t *testing.T) {
	k := NewKeyed[int](1, 1, 4)
	for i := 0; i < 10; i++ {
		k.Allow(i)
	}
	if k.Len() > 4 {
		t.Fatalf("table should be bounded to 4 keys, got %d", k.Len())
	}
}

// TestKeyedConcurrent verifies concurrent use is safe.
func TestKeyedConcurrent(t *testing.T) {
	k := NewKeyed[int](1000, 1000, 64)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				k.Allow(i % 16)
			}
		}(g)
	}
	wg.Wait()
}
