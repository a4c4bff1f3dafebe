package api

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNextTimestampMonotonic(t *testing.T) {
	t.Cleanup(func() {
		atomic.StoreInt64(&lastTimestamp, 0)
	})
	atomic.StoreInt64(&lastTimestamp, 0)

	first := nextTimestamp()
	second := nextTimestamp()
	if second <= first {
		t.Fatalf("expected strictly increasing timestamps, got %d then %d", first, second)
	}
}

func TestNextTimestampAdvancesPastFuture(t *testing.T) {
	t.Cleanup(func() {
		atomic.StoreInt64(&lastTimestamp, 0)
	})

	base := time.Now().Add(time.Second).UnixNano()
	atomic.StoreInt64(&lastTimestamp, base)

	if got := nextTimestamp(); got != base+1 {
		t.Fatalf("expected %d, got %d", base+1, got)
	}
}

func TestNextTimestampConcurrentUnique(t *testing.T) {
	t.Cleanup(func() {
		atomic.StoreInt64(&lastTimestamp, 0)
	})
	atomic.StoreInt64(&lastTimestamp, 0)

	const n = 200
	var wg sync.WaitGroup
	results := make(chan int64, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			results <- nextTimestamp()
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]struct{}, n)
	for ts := range results {
		if _, dup := seen[ts]; dup {
			t.Fatalf("duplicate timestamp %d", ts)
		}
		seen[ts] = struct{}{}
	}
}

func TestEnvHelpersFallBackToDefaults(t *testing.T) {
	t.Setenv("PINBOARD_TEST_INT", "not-a-number")
	t.Setenv("PINBOARD_TEST_DUR", "-5s")
	t.Setenv("PINBOARD_TEST_STR", "")

	if got := envInt("PINBOARD_TEST_INT", 7); got != 7 {
		t.Fatalf("expected default int, got %d", got)
	}
	if got := envDur("PINBOARD_TEST_DUR", time.Minute); got != time.Minute {
		t.Fatalf("expected default duration, got %v", got)
	}
	if got := envString("PINBOARD_TEST_STR", "fallback"); got != "fallback" {
		t.Fatalf("expected default string, got %q", got)
	}
}

func TestEnvHelpersReadValues(t *testing.T) {
	t.Setenv("PINBOARD_TEST_INT", "42")
	t.Setenv("PINBOARD_TEST_DUR", "90ms")
	t.Setenv("PINBOARD_TEST_STR", "value")

	if got := envInt("PINBOARD_TEST_INT", 7); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	if got := envDur("PINBOARD_TEST_DUR", time.Minute); got != 90*time.Millisecond {
		t.Fatalf("expected 90ms, got %v", got)
	}
	if got := envString("PINBOARD_TEST_STR", "fallback"); got != "value" {
		t.Fatalf("expected value, got %q", got)
	}
}
