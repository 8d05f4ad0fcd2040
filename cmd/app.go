package cmd

import (
	"database/sql"
	"fmt"
	"log/slog"

	"jackpotgate/activity"
	"jackpotgate/clientip"
	"jackpotgate/config"
	"jackpotgate/db"
	"jackpotgate/ippolicy"
	"jackpotgate/logging"
	"jackpotgate/ratelimit"
	"jackpotgate/users"
)

// app holds the stores shared by the server and the operator commands.
type app struct {
	cfg      config.Config
	users    *users.Store
	policy   *ippolicy.Store
	limiter  *ratelimit.Limiter
	activity *activity.Logger
	geo      *clientip.GeoLocator
	db       *sql.DB
}

func openApp(cfg config.Config) (*app, error) {
	storage := logging.Storage()
	a := &app{
		cfg:      cfg,
		users:    users.NewStore(cfg.CredentialsPath(), storage),
		policy:   ippolicy.NewStore(cfg.IPConfigPath(), storage),
		activity: activity.New(cfg.LogsDir(), logging.Activity()),
	}

	var store ratelimit.Store
	switch cfg.RateLimitBackend {
	case "", config.BackendJSON:
		store = ratelimit.NewJSONStore(cfg.RateLimitPath(), storage)
	case config.BackendSQLite:
		conn, err := db.Open(cfg.DBPath())
		if err != nil {
			return nil, fmt.Errorf("failed to open rate limit database: %w", err)
		}
		a.db = conn
		store = db.NewRateLimitStore(conn)
	default:
		return nil, fmt.Errorf("unknown rate_limit_backend %q", cfg.RateLimitBackend)
	}
	a.limiter = ratelimit.New(store, nil)

	if cfg.GeoIPDB != "" {
		geo, err := clientip.OpenGeoLocator(cfg.GeoIPDB)
		if err != nil {
			// Enrichment only; the gate works without it.
			slog.Warn("GeoIP database unavailable", "path", cfg.GeoIPDB, "error", err)
		} else {
			a.geo = geo
		}
	}
	return a, nil
}

func (a *app) resolver() (clientip.Resolver, error) {
	switch a.cfg.IPResolver {
	case config.ResolverExternal:
		return clientip.NewExternalResolver(a.cfg.IPLookupURL, a.cfg.IPLookupTimeout()), nil
	case "", config.ResolverRequest:
		rr, err := clientip.NewRequestResolver(a.cfg.TrustedProxies)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted_proxies: %w", err)
		}
		return rr, nil
	default:
		return nil, fmt.Errorf("unknown ip_resolver %q", a.cfg.IPResolver)
	}
}

func (a *app) Close() {
	if a.geo != nil {
		a.geo.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
