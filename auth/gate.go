// Package auth is the login gate in front of the dashboard: IP policy,
// rate limiting, credential check, session lifetime and audit logging.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"jackpotgate/activity"
	"jackpotgate/clientip"
	"jackpotgate/models"
	"jackpotgate/ratelimit"
)

// DefaultMaxSessionAge is how long a login stays valid.
const DefaultMaxSessionAge = 8 * time.Hour

var (
	ErrIPBlocked        = errors.New("access from this IP address is not allowed")
	ErrRateLimited      = errors.New("too many login attempts")
	ErrBadCredentials   = errors.New("username or password incorrect")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrSessionExpired   = errors.New("session expired")
)

// RateLimitedError carries the lockout expiry of a refused attempt.
type RateLimitedError struct {
	Until time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%v until %s", ErrRateLimited, e.Until.Format(time.RFC3339))
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

type Credentials interface {
	Verify(username, password string) (models.Credential, bool)
}

type IPPolicy interface {
	IsAllowed(ip string) bool
}

type ActivityLog interface {
	LogLogin(username, status, ip string) error
	LogIPActivity(username, activityType, ip string) error
}

type Options struct {
	Credentials Credentials
	Policy      IPPolicy
	Limiter     *ratelimit.Limiter
	Activity    ActivityLog
	// Resolver defaults to clientip.RequestResolver.
	Resolver clientip.Resolver
	Geo      *clientip.GeoLocator
	Logger   *slog.Logger

	MaxSessionAge time.Duration
	// ResetOnSuccess clears the username and IP counters after a successful
	// login.
	ResetOnSuccess bool
	Now            func() time.Time
}

type Gate struct {
	creds          Credentials
	policy         IPPolicy
	limiter        *ratelimit.Limiter
	activity       ActivityLog
	resolver       clientip.Resolver
	geo            *clientip.GeoLocator
	logger         *slog.Logger
	maxAge         time.Duration
	resetOnSuccess bool
	nowFunc        func() time.Time
}

func NewGate(opts Options) *Gate {
	g := &Gate{
		creds:          opts.Credentials,
		policy:         opts.Policy,
		limiter:        opts.Limiter,
		activity:       opts.Activity,
		resolver:       opts.Resolver,
		geo:            opts.Geo,
		logger:         opts.Logger,
		maxAge:         opts.MaxSessionAge,
		resetOnSuccess: opts.ResetOnSuccess,
		nowFunc:        opts.Now,
	}
	if g.resolver == nil {
		g.resolver = clientip.RequestResolver{}
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.maxAge <= 0 {
		g.maxAge = DefaultMaxSessionAge
	}
	if g.nowFunc == nil {
		g.nowFunc = time.Now
	}
	return g
}

// ClientIP resolves the caller's address, or clientip.Unknown.
func (g *Gate) ClientIP(ctx context.Context, r *http.Request) string {
	ip := g.resolver.Resolve(ctx, r)
	if ip == "" {
		return clientip.Unknown
	}
	return ip
}

// AttemptLogin runs one login attempt and fills sess on success. The
// returned error is one of ErrIPBlocked, ErrRateLimited (as a
// *RateLimitedError) or ErrBadCredentials, or a storage failure.
func (g *Gate) AttemptLogin(ctx context.Context, r *http.Request, sess *Session, username, password string) error {
	ip := g.ClientIP(ctx, r)
	log := g.logger.With("username", username, "ip", ip)
	if country := g.geo.Country(ip); country != "" {
		log = log.With("country", country)
	}

	if !g.policy.IsAllowed(ip) {
		sess.Clear()
		log.Warn("Login refused by IP policy")
		g.logIP(username, activity.BlockedIP, ip)
		return ErrIPBlocked
	}

	if until, locked := g.locked(ctx, log, username, ip); locked {
		sess.Clear()
		log.Warn("Login refused by rate limit", "locked_until", until)
		g.logIP(username, activity.RateLimited, ip)
		return &RateLimitedError{Until: until}
	}

	cred, ok := g.creds.Verify(username, password)
	if !ok {
		sess.Clear()
		log.Info("Login failed")
		g.logLogin(username, activity.StatusFailed, ip)
		g.logIP(username, activity.FailedLogin, ip)

		locks, err := g.limiter.RecordFailure(ctx, username, ip)
		if err != nil {
			log.Error("Failed to record failed attempt", "error", err)
		}
		for _, l := range locks {
			kind := activity.RateLimitedUser
			if l.IP {
				kind = activity.RateLimitedIP
			}
			log.Warn("Lockout set", "key", l.Key, "until", l.Until)
			g.logIP(username, kind, ip)
		}
		return ErrBadCredentials
	}

	*sess = Session{
		Authenticated: true,
		Username:      username,
		Role:          cred.Role,
		LoginTime:     g.nowFunc().Truncate(time.Second),
		IPAddress:     ip,
	}
	log.Info("Login succeeded", "role", cred.Role)
	g.logLogin(username, activity.StatusSuccess, ip)
	g.logIP(username, activity.SuccessfulLogin, ip)

	if g.resetOnSuccess {
		if err := g.limiter.Reset(ctx, ratelimit.UserKey(username), ratelimit.IPKey(ip)); err != nil {
			log.Error("Failed to reset rate limits", "error", err)
		}
	}
	return nil
}

// locked checks both identities. Store errors fail open.
func (g *Gate) locked(ctx context.Context, log *slog.Logger, username, ip string) (time.Time, bool) {
	var until time.Time
	locked := false
	for _, key := range []string{ratelimit.UserKey(username), ratelimit.IPKey(ip)} {
		ok, u, err := g.limiter.Allowed(ctx, key)
		if err != nil {
			log.Error("Rate limit check failed", "key", key, "error", err)
			continue
		}
		if !ok {
			locked = true
			if u.After(until) {
				until = u
			}
		}
	}
	return until, locked
}

// Validate reports whether sess is a live login. An expired session is
// cleared and ErrSessionExpired returned so the caller can show the expiry
// notice.
func (g *Gate) Validate(sess *Session) error {
	if sess == nil || !sess.Authenticated {
		return ErrNotAuthenticated
	}
	if g.nowFunc().Sub(sess.LoginTime) > g.maxAge {
		g.logger.Info("Session expired", "username", sess.Username, "login_time", sess.LoginTime)
		sess.Clear()
		return ErrSessionExpired
	}
	return nil
}

func (g *Gate) IsSessionValid(sess *Session) bool {
	return g.Validate(sess) == nil
}

// Logout records the logout when the identity is known and clears sess.
func (g *Gate) Logout(_ context.Context, sess *Session) {
	if sess.Username != "" && sess.IPAddress != "" {
		g.logIP(sess.Username, activity.Logout, sess.IPAddress)
	}
	sess.Clear()
}

// LogPageView tags a page visit, e.g. "page_view_home".
func (g *Gate) LogPageView(_ context.Context, sess *Session, tag string) {
	if sess == nil || !sess.Authenticated {
		return
	}
	g.logIP(sess.Username, tag, sess.IPAddress)
}

func (g *Gate) logIP(username, activityType, ip string) {
	if err := g.activity.LogIPActivity(username, activityType, ip); err != nil {
		g.logger.Error("Failed to write IP activity", "activity", activityType, "error", err)
	}
}

func (g *Gate) logLogin(username, status, ip string) {
	if err := g.activity.LogLogin(username, status, ip); err != nil {
		g.logger.Error("Failed to write login activity", "status", status, "error", err)
	}
}

// MessageKey maps a gate error to its i18n message key.
func MessageKey(err error) string {
	switch {
	case errors.Is(err, ErrIPBlocked):
		return "IPNotAllowed"
	case errors.Is(err, ErrRateLimited):
		return "TooManyAttempts"
	case errors.Is(err, ErrBadCredentials):
		return "InvalidCredentials"
	case errors.Is(err, ErrSessionExpired):
		return "SessionExpired"
	case errors.Is(err, ErrNotAuthenticated):
		return "LoginRequired"
	}
	return "InternalError"
}
