package ratelimit

import "testing"

func TestLimiterAllowsUpToBurst(t *testing.T) {
	limiter := NewLimiter(1, 3)
	for i := 0; i < 3; i++ {
		if !limiter.Allow("tenant-a") {
			t.Fatalf("expected request %d within burst to be allowed", i)
		}
	}
	if limiter.Allow("tenant-a") {
		t.Fatal("expected request beyond burst to be rejected")
	}
}

func TestLimiterTracksTenantsIndependently(t *testing.T) {
	limiter := NewLimiter(1, 1)
	if !limiter.Allow("tenant-a") {
		t.Fatal("expected tenant-a's first request to be allowed")
	}
	if limiter.Allow("tenant-a") {
		t.Fatal("expected tenant-a's second immediate request to be rejected")
	}
	if !limiter.Allow("tenant-b") {
		t.Fatal("expected tenant-b's budget to be independent of tenant-a's")
	}
}
