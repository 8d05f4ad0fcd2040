package ratelimit

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"jackpotgate/fileutil"
	"jackpotgate/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T) (*Limiter, *fakeClock, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logs", "rate_limits.json")
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return New(NewJSONStore(path, nil), clock.Now), clock, path
}

func mustAllowed(t *testing.T, l *Limiter, key string) bool {
	t.Helper()
	ok, _, err := l.Allowed(context.Background(), key)
	if err != nil {
		t.Fatalf("Allowed(%q) failed: %v", key, err)
	}
	return ok
}

func TestUserLockoutAfterFiveFailures(t *testing.T) {
	l, clock, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		locks, err := l.RecordFailure(ctx, "alice", "1.1.1.1")
		if err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
		if len(locks) != 0 {
			t.Fatalf("Unexpected lock after %d failures: %+v", i, locks)
		}
		clock.Advance(10 * time.Second)
	}
	if !mustAllowed(t, l, UserKey("alice")) {
		t.Fatal("alice locked after 4 failures")
	}

	locks, _ := l.RecordFailure(ctx, "alice", "1.1.1.1")
	if len(locks) != 1 || locks[0].Key != "alice" || locks[0].IP {
		t.Fatalf("Expected a single user lock, got %+v", locks)
	}
	if want := clock.Now().Add(UserLockout); !locks[0].Until.Equal(want) {
		t.Errorf("Lock until %v, want %v", locks[0].Until, want)
	}

	if mustAllowed(t, l, UserKey("alice")) {
		t.Error("alice should be locked")
	}
	if !mustAllowed(t, l, IPKey("1.1.1.1")) {
		t.Error("IP should not be locked after 5 failures")
	}

	clock.Advance(UserLockout - time.Minute)
	if mustAllowed(t, l, UserKey("alice")) {
		t.Error("alice should still be locked before reset_time")
	}
	clock.Advance(2 * time.Minute)
	if !mustAllowed(t, l, UserKey("alice")) {
		t.Error("alice should be allowed after reset_time")
	}
}

func TestIPLockoutIndependentOfUsers(t *testing.T) {
	l, clock, _ := newTestLimiter(t)
	ctx := context.Background()
	users := []string{"u0", "u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8", "u9"}

	var last []Lock
	for _, u := range users {
		var err error
		last, err = l.RecordFailure(ctx, u, "9.9.9.9")
		if err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
		clock.Advance(time.Second)
	}

	if len(last) != 1 || !last[0].IP || last[0].Key != "ip_9.9.9.9" {
		t.Fatalf("Expected IP lock on 10th failure, got %+v", last)
	}
	if mustAllowed(t, l, IPKey("9.9.9.9")) {
		t.Error("IP should be locked")
	}
	for _, u := range users {
		if !mustAllowed(t, l, UserKey(u)) {
			t.Errorf("User %s should not be locked", u)
		}
	}

	entry, _, _ := l.store.Get(ctx, IPKey("9.9.9.9"))
	want := models.EpochSeconds(clock.Now().Add(-time.Second).Add(IPLockout))
	if entry.ResetTime == nil || *entry.ResetTime != want {
		t.Errorf("reset_time = %v, want %v", entry.ResetTime, want)
	}
}

func TestWindowExpiryRestartsCount(t *testing.T) {
	l, clock, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		l.RecordFailure(ctx, "bob", "2.2.2.2")
	}
	clock.Advance(Window + time.Second)
	l.RecordFailure(ctx, "bob", "2.2.2.2")

	entry, ok, _ := l.store.Get(ctx, "bob")
	if !ok {
		t.Fatal("Entry missing")
	}
	if entry.Attempts != 1 {
		t.Errorf("Expected attempts=1 after window expiry, got %d", entry.Attempts)
	}
	if want := models.EpochSeconds(clock.Now().Add(Window)); entry.WindowEnd != want {
		t.Errorf("window_end = %v, want %v", entry.WindowEnd, want)
	}
	if !mustAllowed(t, l, "bob") {
		t.Error("bob should not be locked")
	}
	if n, _ := l.Attempts(ctx, "bob"); n != 1 {
		t.Errorf("Attempts = %d, want 1", n)
	}
}

func TestFailureAfterLockoutStartsFreshWindow(t *testing.T) {
	l, clock, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		l.RecordFailure(ctx, "carol", "3.3.3.3")
	}
	clock.Advance(UserLockout + time.Second)
	l.RecordFailure(ctx, "carol", "3.3.3.3")

	entry, _, _ := l.store.Get(ctx, "carol")
	if entry.Attempts != 1 || entry.ResetTime != nil {
		t.Errorf("Expected a fresh entry without reset_time, got %+v", entry)
	}
}

func TestAttemptsOutsideWindow(t *testing.T) {
	l, clock, _ := newTestLimiter(t)
	ctx := context.Background()

	l.RecordFailure(ctx, "dan", "4.4.4.4")
	l.RecordFailure(ctx, "dan", "4.4.4.4")
	if n, _ := l.Attempts(ctx, "dan"); n != 2 {
		t.Errorf("Attempts = %d, want 2", n)
	}
	clock.Advance(Window + time.Second)
	if n, _ := l.Attempts(ctx, "dan"); n != 0 {
		t.Errorf("Attempts after window = %d, want 0", n)
	}
	if n, _ := l.Attempts(ctx, "nobody"); n != 0 {
		t.Errorf("Attempts for unknown key = %d, want 0", n)
	}
}

func TestClearAllAndReset(t *testing.T) {
	l, _, path := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		l.RecordFailure(ctx, "erin", "5.5.5.5")
	}
	l.RecordFailure(ctx, "frank", "6.6.6.6")

	if err := l.Reset(ctx, UserKey("frank"), IPKey("6.6.6.6")); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	entries, _ := l.Entries(ctx)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries after reset, got %d", len(entries))
	}

	if err := l.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}
	if !mustAllowed(t, l, "erin") {
		t.Error("erin still locked after ClearAll")
	}

	var onDisk map[string]models.RateLimitEntry
	if err := fileutil.ReadJSON(path, &onDisk); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if len(onDisk) != 0 {
		t.Errorf("Expected empty file, got %d entries", len(onDisk))
	}
}

func TestEntries(t *testing.T) {
	l, clock, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		l.RecordFailure(ctx, "gina", "7.7.7.7")
	}

	entries, err := l.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}

	user, ip := entries[0], entries[1]
	if user.Key != "gina" || user.Type != "User" || !user.Locked || user.Attempts != 5 {
		t.Errorf("Unexpected user row: %+v", user)
	}
	if !user.LockedUntil.Equal(clock.Now().Add(UserLockout)) {
		t.Errorf("Unexpected lock expiry: %v", user.LockedUntil)
	}
	if ip.Key != "ip_7.7.7.7" || ip.Type != "IP" || ip.Identity != "7.7.7.7" || ip.Locked {
		t.Errorf("Unexpected ip row: %+v", ip)
	}
	if !ip.LockedUntil.IsZero() {
		t.Errorf("IP row should have no lock expiry, got %v", ip.LockedUntil)
	}
}

func TestJSONStoreReadsOriginalFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rate_limits.json")
	os.WriteFile(path, []byte(`{"alice": {"attempts": 5, "window_end": 1700000300.25, "reset_time": 1700001800.5}, "ip_1.1.1.1": {"attempts": 5, "window_end": 1700000300.25}}`), 0o644)

	clock := &fakeClock{now: time.Unix(1_700_000_100, 0)}
	l := New(NewJSONStore(path, nil), clock.Now)

	if mustAllowed(t, l, "alice") {
		t.Error("alice should be locked by the persisted reset_time")
	}
	if !mustAllowed(t, l, "ip_1.1.1.1") {
		t.Error("IP has no reset_time and should be allowed")
	}
}

func TestJSONStoreCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rate_limits.json")
	os.WriteFile(path, []byte(`not json`), 0o644)

	l := New(NewJSONStore(path, nil), nil)
	if !mustAllowed(t, l, "anyone") {
		t.Error("Corrupt file should not lock anyone out")
	}
	if _, err := l.RecordFailure(context.Background(), "anyone", "8.8.8.8"); err != nil {
		t.Fatalf("RecordFailure on corrupt file failed: %v", err)
	}
	if n, _ := l.Attempts(context.Background(), "anyone"); n != 1 {
		t.Errorf("Attempts = %d, want 1", n)
	}
}

func TestConcurrentFailuresAreNotLost(t *testing.T) {
	l, _, _ := newTestLimiter(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.RecordFailure(ctx, "henry", "10.0.0.1")
		}()
	}
	wg.Wait()

	if n, _ := l.Attempts(ctx, "henry"); n != 4 {
		t.Errorf("Expected 4 attempts, got %d", n)
	}
}
