package activity

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l := New(filepath.Join(t.TempDir(), "logs"), nil)
	l.SetNow(func() time.Time { return time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local) })
	return l
}

func TestLogLoginWritesHeaderOnce(t *testing.T) {
	l := newTestLogger(t)

	if err := l.LogLogin("alice", StatusFailed, "1.2.3.4"); err != nil {
		t.Fatalf("LogLogin failed: %v", err)
	}
	if err := l.LogLogin("alice", StatusSuccess, "1.2.3.4"); err != nil {
		t.Fatalf("LogLogin failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(l.Dir(), LoginFile))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	want := "Timestamp,Username,Status,IP Address\n" +
		"2024-03-09 14:05:07,alice,failed,1.2.3.4\n" +
		"2024-03-09 14:05:07,alice,success,1.2.3.4\n"
	if string(data) != want {
		t.Errorf("Unexpected file content:\n%s", data)
	}
}

func TestLogIPActivity(t *testing.T) {
	l := newTestLogger(t)

	l.LogIPActivity("bob", BlockedIP, "5.6.7.8")
	data, _ := os.ReadFile(filepath.Join(l.Dir(), IPFile))
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	if lines[0] != "Timestamp,Username,Activity,IP Address" {
		t.Errorf("Unexpected header %q", lines[0])
	}
	if lines[1] != "2024-03-09 14:05:07,bob,blocked_ip,5.6.7.8" {
		t.Errorf("Unexpected row %q", lines[1])
	}
}

func TestReadersNewestFirstWithFilter(t *testing.T) {
	l := newTestLogger(t)

	l.LogLogin("alice", StatusFailed, "1.1.1.1")
	l.LogLogin("bob", StatusSuccess, "2.2.2.2")
	l.LogLogin("alice", StatusSuccess, "1.1.1.1")

	all, err := l.LoginActivity(Filter{})
	if err != nil {
		t.Fatalf("LoginActivity failed: %v", err)
	}
	if len(all) != 3 || all[0].Username != "alice" || all[0].Status != StatusSuccess || all[2].Status != StatusFailed {
		t.Errorf("Unexpected order: %+v", all)
	}

	alice, _ := l.LoginActivity(Filter{Username: "alice"})
	if len(alice) != 2 {
		t.Errorf("Expected 2 rows for alice, got %d", len(alice))
	}
	failed, _ := l.LoginActivity(Filter{Status: StatusFailed})
	if len(failed) != 1 || failed[0].IPAddress != "1.1.1.1" {
		t.Errorf("Unexpected failed rows: %+v", failed)
	}
	limited, _ := l.LoginActivity(Filter{Limit: 1})
	if len(limited) != 1 || limited[0].Username != "alice" {
		t.Errorf("Unexpected limited rows: %+v", limited)
	}

	l.LogIPActivity("alice", FailedLogin, "1.1.1.1")
	l.LogIPActivity("alice", RateLimitedUser, "1.1.1.1")
	ip, _ := l.IPActivity(Filter{Activity: RateLimitedUser})
	if len(ip) != 1 || ip[0].Activity != RateLimitedUser {
		t.Errorf("Unexpected ip rows: %+v", ip)
	}
}

func TestReadMissingFile(t *testing.T) {
	l := newTestLogger(t)
	rows, err := l.IPActivity(Filter{})
	if err != nil {
		t.Fatalf("IPActivity failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("Expected no rows, got %d", len(rows))
	}
}

func TestValuesAreCSVQuoted(t *testing.T) {
	l := newTestLogger(t)
	l.LogLogin("smith, john", StatusFailed, "Unknown")

	rows, _ := l.LoginActivity(Filter{})
	if len(rows) != 1 || rows[0].Username != "smith, john" {
		t.Errorf("Round trip lost the quoted username: %+v", rows)
	}
}

func TestConcurrentAppends(t *testing.T) {
	l := newTestLogger(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.LogIPActivity("user", FailedLogin, "9.9.9.9")
		}()
	}
	wg.Wait()

	rows, _ := l.IPActivity(Filter{})
	if len(rows) != 20 {
		t.Errorf("Expected 20 rows, got %d", len(rows))
	}
}
