package http

import (
	"testing"
	"time"
)

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("1.1.1.1") || !rl.Allow("1.1.1.1") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("1.1.1.1") {
		t.Fatal("third request inside window should be limited")
	}
	if !rl.Allow("2.2.2.2") {
		t.Fatal("other clients are limited separately")
	}

	now = now.Add(61 * time.Second)
	if !rl.Allow("1.1.1.1") {
		t.Fatal("request after window should pass")
	}
}

func TestRateLimiterUnlimited(t *testing.T) {
	rl := NewRateLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		if !rl.Allow("1.1.1.1") {
			t.Fatalf("request %d limited with limit 0", i)
		}
	}
}

func TestRateLimiterPrune(t *testing.T) {
	rl := NewRateLimiter(5, time.Minute)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	rl.Allow("old")
	now = now.Add(30 * time.Second)
	rl.Allow("new")
	now = now.Add(45 * time.Second)
	rl.Prune()

	if _, ok := rl.clients["old"]; ok {
		t.Error("stale client not pruned")
	}
	if _, ok := rl.clients["new"]; !ok {
		t.Error("active client pruned")
	}
}
