package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinBurst(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 5, CleanupInterval: time.Minute})
	defer l.Stop()

	for i := 0; i < 5; i++ {
		if !l.Allow("client") {
			t.Fatalf("request %d blocked within burst", i)
		}
	}
	if l.Allow("client") {
		t.Error("request allowed past burst")
	}
}

func TestKeysIsolated(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Minute})
	defer l.Stop()

	if !l.Allow("a") {
		t.Fatal("first request for a blocked")
	}
	if !l.Allow("b") {
		t.Error("a's usage throttled b")
	}
}

func TestTokensRefill(t *testing.T) {
	l := New(Config{RequestsPerMinute: 6000, BurstSize: 1, CleanupInterval: time.Minute})
	defer l.Stop()

	l.Allow("client")
	if l.Allow("client") {
		t.Fatal("burst of 1 allowed a second immediate request")
	}
	time.Sleep(50 * time.Millisecond)
	if !l.Allow("client") {
		t.Error("tokens did not refill")
	}
}
