// Package ratelimit tracks failed logins per username and per client IP in
// a fixed window and locks an identity out once it crosses its threshold.
package ratelimit

import (
	"context"
	"sort"
	"strings"
	"time"

	"jackpotgate/models"
)

const (
	// Window is how long failures accumulate before the count restarts.
	Window = 300 * time.Second

	UserMaxAttempts = 5
	UserLockout     = 30 * time.Minute
	IPMaxAttempts   = 10
	IPLockout       = time.Hour

	ipKeyPrefix = "ip_"
)

// Store persists rate-limit entries keyed by identity.
type Store interface {
	Get(ctx context.Context, key string) (models.RateLimitEntry, bool, error)
	All(ctx context.Context) (map[string]models.RateLimitEntry, error)
	// Update loads the entries for keys, lets fn modify the map, and writes
	// the resulting entries back as one atomic step. Keys missing from the map
	// after fn returns are deleted.
	Update(ctx context.Context, keys []string, fn func(entries map[string]models.RateLimitEntry)) error
	Clear(ctx context.Context) error
}

// Rule is the threshold and lockout applied to one kind of identity.
type Rule struct {
	MaxAttempts int
	Lockout     time.Duration
}

var (
	UserRule = Rule{MaxAttempts: UserMaxAttempts, Lockout: UserLockout}
	IPRule   = Rule{MaxAttempts: IPMaxAttempts, Lockout: IPLockout}
)

// UserKey is the identity key of a username.
func UserKey(username string) string { return username }

// IPKey is the identity key of a client address.
func IPKey(ip string) string { return ipKeyPrefix + ip }

func IsIPKey(key string) bool { return strings.HasPrefix(key, ipKeyPrefix) }

// Identity strips the ip_ prefix from an IP key.
func Identity(key string) string { return strings.TrimPrefix(key, ipKeyPrefix) }

// Lock describes an identity that crossed its threshold.
type Lock struct {
	Key   string
	IP    bool
	Until time.Time
}

// Status is one row of the admin rate-limit table.
type Status struct {
	Key         string    `json:"key"`
	Type        string    `json:"type"` // "User" or "IP"
	Identity    string    `json:"identity"`
	Attempts    int       `json:"attempts"`
	Locked      bool      `json:"locked"`
	WindowEnd   time.Time `json:"window_end"`
	LockedUntil time.Time `json:"locked_until,omitzero"`
}

type Limiter struct {
	store   Store
	window  time.Duration
	user    Rule
	ip      Rule
	nowFunc func() time.Time
}

// New creates a limiter with the standard window and thresholds. A nil
// now uses time.Now.
func New(store Store, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		store:   store,
		window:  Window,
		user:    UserRule,
		ip:      IPRule,
		nowFunc: now,
	}
}

// Allowed reports whether key is outside any lockout. When it is locked the
// expiry is returned.
func (l *Limiter) Allowed(ctx context.Context, key string) (bool, time.Time, error) {
	entry, ok, err := l.store.Get(ctx, key)
	if err != nil || !ok {
		return true, time.Time{}, err
	}
	if entry.Locked(l.nowFunc()) {
		return false, entry.LockedUntil(), nil
	}
	return true, time.Time{}, nil
}

// Attempts returns the failures counted for key in its current window.
func (l *Limiter) Attempts(ctx context.Context, key string) (int, error) {
	entry, ok, err := l.store.Get(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	if models.EpochSeconds(l.nowFunc()) > entry.WindowEnd {
		return 0, nil
	}
	return entry.Attempts, nil
}

// RecordFailure counts one failed login against both the username and the
// client IP. It returns the identities that reached their threshold.
func (l *Limiter) RecordFailure(ctx context.Context, username, ip string) ([]Lock, error) {
	type target struct {
		key  string
		rule Rule
		ip   bool
	}
	targets := []target{
		{key: UserKey(username), rule: l.user},
		{key: IPKey(ip), rule: l.ip, ip: true},
	}
	keys := []string{targets[0].key, targets[1].key}

	now := l.nowFunc()
	ts := models.EpochSeconds(now)
	var locks []Lock

	err := l.store.Update(ctx, keys, func(entries map[string]models.RateLimitEntry) {
		locks = locks[:0]
		for _, t := range targets {
			entry, ok := entries[t.key]
			if !ok || ts > entry.WindowEnd {
				entries[t.key] = models.RateLimitEntry{Attempts: 1, WindowEnd: ts + l.window.Seconds()}
				continue
			}
			entry.Attempts++
			if entry.Attempts >= t.rule.MaxAttempts {
				reset := ts + t.rule.Lockout.Seconds()
				entry.ResetTime = &reset
				locks = append(locks, Lock{Key: t.key, IP: t.ip, Until: models.FromEpochSeconds(reset)})
			}
			entries[t.key] = entry
		}
	})
	if err != nil {
		return nil, err
	}
	return locks, nil
}

// Reset deletes the entries for the given keys.
func (l *Limiter) Reset(ctx context.Context, keys ...string) error {
	return l.store.Update(ctx, keys, func(entries map[string]models.RateLimitEntry) {
		for _, k := range keys {
			delete(entries, k)
		}
	})
}

// ClearAll empties the whole rate-limit map.
func (l *Limiter) ClearAll(ctx context.Context) error {
	return l.store.Clear(ctx)
}

// Entries lists every tracked identity sorted by key.
func (l *Limiter) Entries(ctx context.Context) ([]Status, error) {
	all, err := l.store.All(ctx)
	if err != nil {
		return nil, err
	}
	now := l.nowFunc()
	out := make([]Status, 0, len(all))
	for key, e := range all {
		st := Status{
			Key:         key,
			Type:        "User",
			Identity:    key,
			Attempts:    e.Attempts,
			Locked:      e.Locked(now),
			WindowEnd:   models.FromEpochSeconds(e.WindowEnd),
			LockedUntil: e.LockedUntil(),
		}
		if IsIPKey(key) {
			st.Type = "IP"
			st.Identity = Identity(key)
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
