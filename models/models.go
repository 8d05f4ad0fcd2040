package models

import (
	"math"
	"time"
)

// Credential is one entry of credentials.json, keyed by username.
type Credential struct {
	Password string `json:"password"`
	Salt     string `json:"salt"`
	Role     string `json:"role"` // "admin", "analyst", "viewer" or "user"
}

type User struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type IPMode string

const (
	ModeAllowAll IPMode = "allow_all"
	ModeDenyAll  IPMode = "deny_all"
	ModeUseLists IPMode = "use_lists"
)

// IPConfig is the process-wide content of ip_config.json.
type IPConfig struct {
	Mode      IPMode   `json:"mode"`
	AllowList []string `json:"allow_list"`
	DenyList  []string `json:"deny_list"`
}

// RateLimitEntry is one value of rate_limits.json. Times are epoch seconds.
type RateLimitEntry struct {
	Attempts  int      `json:"attempts"`
	WindowEnd float64  `json:"window_end"`
	ResetTime *float64 `json:"reset_time,omitempty"`
}

// Locked reports whether now is before the entry's reset time.
func (e RateLimitEntry) Locked(now time.Time) bool {
	return e.ResetTime != nil && EpochSeconds(now) < *e.ResetTime
}

// LockedUntil returns the lockout expiry, or the zero time when none is set.
func (e RateLimitEntry) LockedUntil() time.Time {
	if e.ResetTime == nil {
		return time.Time{}
	}
	return FromEpochSeconds(*e.ResetTime)
}

type LoginActivity struct {
	Timestamp string `json:"timestamp"`
	Username  string `json:"username"`
	Status    string `json:"status"`
	IPAddress string `json:"ip_address"`
}

type IPActivity struct {
	Timestamp string `json:"timestamp"`
	Username  string `json:"username"`
	Activity  string `json:"activity"`
	IPAddress string `json:"ip_address"`
}

func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func FromEpochSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}
