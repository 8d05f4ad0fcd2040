package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"jackpotgate/models"
	"jackpotgate/ratelimit"
)

func TestOpen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "data", "gate.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM rate_limits").Scan(&count); err != nil {
		t.Errorf("Could not query rate_limits table: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected empty table, got %d rows", count)
	}
}

func TestRateLimitStoreRoundTrip(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()
	store := NewRateLimitStore(db)
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "alice"); ok || err != nil {
		t.Fatalf("Expected no entry, got ok=%v err=%v", ok, err)
	}

	reset := 1700001800.5
	err = store.Update(ctx, []string{"alice", "ip_1.1.1.1"}, func(m map[string]models.RateLimitEntry) {
		m["alice"] = models.RateLimitEntry{Attempts: 5, WindowEnd: 1700000300, ResetTime: &reset}
		m["ip_1.1.1.1"] = models.RateLimitEntry{Attempts: 5, WindowEnd: 1700000300}
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	e, ok, err := store.Get(ctx, "alice")
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if e.Attempts != 5 || e.ResetTime == nil || *e.ResetTime != reset {
		t.Errorf("Unexpected entry: %+v", e)
	}

	all, err := store.All(ctx)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != 2 || all["ip_1.1.1.1"].ResetTime != nil {
		t.Errorf("Unexpected entries: %+v", all)
	}

	err = store.Update(ctx, []string{"alice"}, func(m map[string]models.RateLimitEntry) {
		delete(m, "alice")
	})
	if err != nil {
		t.Fatalf("Delete via Update failed: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "alice"); ok {
		t.Error("alice should have been deleted")
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if all, _ := store.All(ctx); len(all) != 0 {
		t.Errorf("Expected empty table after Clear, got %d", len(all))
	}
}

func TestLimiterOnSQLite(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "gate.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	limiter := ratelimit.New(NewRateLimitStore(db), clock)
	ctx := context.Background()

	for i := 0; i < ratelimit.UserMaxAttempts; i++ {
		if _, err := limiter.RecordFailure(ctx, "alice", "1.1.1.1"); err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
	}
	if ok, until, _ := limiter.Allowed(ctx, ratelimit.UserKey("alice")); ok || !until.Equal(now.Add(ratelimit.UserLockout)) {
		t.Errorf("Expected alice locked until %v, got ok=%v until=%v", now.Add(ratelimit.UserLockout), ok, until)
	}
	if ok, _, _ := limiter.Allowed(ctx, ratelimit.IPKey("1.1.1.1")); !ok {
		t.Error("IP should not be locked after 5 failures")
	}

	// A second handle on the same file sees the same state.
	limiter2 := ratelimit.New(NewRateLimitStore(db), clock)
	if ok, _, _ := limiter2.Allowed(ctx, "alice"); ok {
		t.Error("Second limiter does not see the lockout")
	}
}
