package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterAllowsUpToCount(t *testing.T) {
	l := New()
	key := "1.2.3.4:sk-test"

	for i := 0; i < 2; i++ {
		if !l.Allow(key, 2, time.Minute) {
			t.Fatalf("request %d unexpectedly rate limited", i)
		}
	}
	if l.Allow(key, 2, time.Minute) {
		t.Fatal("third request within the window should have been rate limited")
	}
}

func TestLimiterSlidesWindow(t *testing.T) {
	l := New()
	key := "1.2.3.4"
	window := 30 * time.Millisecond

	if !l.Allow(key, 1, window) {
		t.Fatal("first request should be allowed")
	}
	if l.Allow(key, 1, window) {
		t.Fatal("second immediate request should be limited")
	}

	time.Sleep(window + 10*time.Millisecond)

	if !l.Allow(key, 1, window) {
		t.Fatal("request after the window elapsed should be allowed again")
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l := New()
	if !l.Allow("a", 1, time.Minute) {
		t.Fatal("key a should be allowed")
	}
	if !l.Allow("b", 1, time.Minute) {
		t.Fatal("key b should be allowed independently of key a")
	}
}

func TestLimiterZeroOrNegativeCountNeverLimits(t *testing.T) {
	l := New()
	for i := 0; i < 5; i++ {
		if !l.Allow("k", 0, time.Minute) {
			t.Fatal("a non-positive count should never rate limit")
		}
	}
}
