package ratelimit

import (
	"testing"
	"time"
)

func TestCheckLimit_NotLimitedUnderCapacity(t *testing.T) {
	l := New(5, time.Minute)
	info := l.CheckLimit("k")
	if info.IsLimited {
		t.Fatal("expected not limited with no usage recorded")
	}
	if info.Remaining != 5 {
		t.Fatalf("expected remaining=5, got %d", info.Remaining)
	}
}

func TestRecordUsage_LimitsAtThreshold(t *testing.T) {
	l := New(2, time.Minute)
	l.RecordUsage("k", 1)
	l.RecordUsage("k", 1)

	info := l.CheckLimit("k")
	if !info.IsLimited {
		t.Fatal("expected limited after reaching capacity")
	}
	if info.ResetAt.IsZero() {
		t.Fatal("expected a non-zero reset_at when limited")
	}
}

func TestCheckLimit_PurgesOldStamps(t *testing.T) {
	l := New(1, 20*time.Millisecond)
	l.RecordUsage("k", 1)

	if !l.CheckLimit("k").IsLimited {
		t.Fatal("expected limited immediately after recording")
	}

	time.Sleep(30 * time.Millisecond)

	if l.CheckLimit("k").IsLimited {
		t.Fatal("expected the window to have purged the stale stamp")
	}
}

func TestReset_ClearsUsageAndRetryHint(t *testing.T) {
	l := New(1, time.Minute)
	l.RecordUsage("k", 1)
	l.RecordRetryAfter("k", time.Hour)

	l.Reset("k")

	if l.CheckLimit("k").IsLimited {
		t.Fatal("expected not limited after reset")
	}
}

func TestRecordRetryAfter_OverridesLocalWindow(t *testing.T) {
	l := New(100, time.Minute)
	l.RecordRetryAfter("k", time.Hour)

	info := l.CheckLimit("k")
	if !info.IsLimited {
		t.Fatal("expected limited due to pending retry-after even with window room")
	}
}

func TestSetLimit_PerKeyIndependent(t *testing.T) {
	l := New(10, time.Minute)
	l.SetLimit("strict", 1, time.Minute)

	l.RecordUsage("strict", 1)
	l.RecordUsage("loose", 1)

	if !l.CheckLimit("strict").IsLimited {
		t.Fatal("expected strict key limited at 1")
	}
	if l.CheckLimit("loose").IsLimited {
		t.Fatal("expected loose key unaffected by strict's override")
	}
}

func TestConcurrentRecordUsageOnOneKey(t *testing.T) {
	l := New(1000, time.Minute)
	done := make(chan struct{})
	for i := 0; i < 50; i++ {
		go func(i int) {
			l.RecordUsage("k", 1)
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 50; i++ {
		<-done
	}
	info := l.CheckLimit("k")
	if info.Remaining != 950 {
		t.Fatalf("expected 950 remaining after 50 concurrent records, got %d", info.Remaining)
	}
}
