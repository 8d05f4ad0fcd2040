// Package ippolicy evaluates client addresses against the allow/deny
// configuration persisted in ip_config.json.
package ippolicy

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/netip"
	"strings"
	"sync"

	"jackpotgate/fileutil"
	"jackpotgate/models"
)

// UnknownIP is the address recorded when the client cannot be resolved.
// It is never blocked.
const UnknownIP = "Unknown"

var (
	ErrInvalidMode  = errors.New("invalid IP access mode")
	ErrInvalidEntry = errors.New("invalid IP or CIDR entry")
)

// DefaultPolicy applies when no configuration exists or it cannot be read.
func DefaultPolicy() models.IPConfig {
	return models.IPConfig{
		Mode:      models.ModeAllowAll,
		AllowList: []string{},
		DenyList:  []string{},
	}
}

// Store caches the policy file. Load refreshes the cache from disk and
// Watch keeps it current while the server runs.
type Store struct {
	mu     sync.RWMutex
	path   string
	cfg    models.IPConfig
	logger *slog.Logger
}

// NewStore creates the store and performs an initial Load.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, cfg: DefaultPolicy(), logger: logger}
	s.Load()
	return s
}

// Load reads the policy file, persisting the default if it is absent.
func (s *Store) Load() models.IPConfig {
	var cfg models.IPConfig
	err := fileutil.ReadJSON(s.path, &cfg)
	switch {
	case err == nil:
		if cfg.Mode == "" {
			cfg.Mode = models.ModeAllowAll
		}
		cfg = normalize(cfg)
		for _, entry := range invalidEntries(cfg) {
			s.logger.Warn("Ignoring malformed IP policy entry", "entry", entry, "path", s.path)
		}
	case errors.Is(err, fs.ErrNotExist):
		cfg = DefaultPolicy()
		if err := fileutil.WriteJSONAtomic(s.path, cfg, 0o644); err != nil {
			s.logger.Error("Failed to persist default IP policy", "path", s.path, "error", err)
		}
	default:
		s.logger.Error("IP policy unreadable, using default", "path", s.path, "error", err, "mode", models.ModeAllowAll)
		cfg = DefaultPolicy()
	}

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return clone(cfg)
}

// Save validates cfg and overwrites the policy file.
func (s *Store) Save(cfg models.IPConfig) error {
	cfg = normalize(cfg)
	if err := Validate(cfg); err != nil {
		return err
	}
	if err := fileutil.WriteJSONAtomic(s.path, cfg, 0o644); err != nil {
		return fmt.Errorf("failed to save IP policy: %w", err)
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.logger.Info("IP policy saved", "mode", cfg.Mode, "allow", len(cfg.AllowList), "deny", len(cfg.DenyList))
	return nil
}

// Policy returns the cached policy.
func (s *Store) Policy() models.IPConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.cfg)
}

func (s *Store) IsAllowed(ip string) bool {
	s.mu.RLock()
	cfg := s.cfg
	s.mu.RUnlock()
	return IsAllowed(cfg, ip)
}

// IsAllowed decides whether ip may attempt to log in under cfg.
// Unknown clients and unrecognized modes are allowed. In list mode the
// deny list wins, and an empty allow list allows everything else.
func IsAllowed(cfg models.IPConfig, ip string) bool {
	if ip == UnknownIP {
		return true
	}

	switch cfg.Mode {
	case models.ModeAllowAll:
		return true
	case models.ModeDenyAll:
		return false
	case models.ModeUseLists:
		addr, err := netip.ParseAddr(ip)
		addrOK := err == nil
		if addrOK {
			addr = addr.Unmap()
		}

		for _, entry := range cfg.DenyList {
			if matches(entry, ip, addr, addrOK) {
				return false
			}
		}
		if len(cfg.AllowList) == 0 {
			return true
		}
		for _, entry := range cfg.AllowList {
			if matches(entry, ip, addr, addrOK) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// Validate checks the mode and that every entry parses as an IP or CIDR.
func Validate(cfg models.IPConfig) error {
	switch cfg.Mode {
	case models.ModeAllowAll, models.ModeDenyAll, models.ModeUseLists:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, cfg.Mode)
	}
	if bad := invalidEntries(cfg); len(bad) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidEntry, strings.Join(bad, ", "))
	}
	return nil
}

// matches compares one list entry. CIDR entries that do not parse never
// match; they are reported when the policy is loaded.
func matches(entry, ip string, addr netip.Addr, addrOK bool) bool {
	if strings.Contains(entry, "/") {
		prefix, err := netip.ParsePrefix(entry)
		if err != nil || !addrOK {
			return false
		}
		return prefix.Masked().Contains(addr)
	}
	return entry == ip
}

func validEntry(entry string) bool {
	if strings.Contains(entry, "/") {
		_, err := netip.ParsePrefix(entry)
		return err == nil
	}
	_, err := netip.ParseAddr(entry)
	return err == nil
}

func invalidEntries(cfg models.IPConfig) []string {
	var bad []string
	for _, list := range [][]string{cfg.AllowList, cfg.DenyList} {
		for _, entry := range list {
			if !validEntry(entry) {
				bad = append(bad, entry)
			}
		}
	}
	return bad
}

func normalize(cfg models.IPConfig) models.IPConfig {
	cfg.AllowList = cleanList(cfg.AllowList)
	cfg.DenyList = cleanList(cfg.DenyList)
	return cfg
}

func cleanList(list []string) []string {
	out := make([]string, 0, len(list))
	for _, entry := range list {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

func clone(cfg models.IPConfig) models.IPConfig {
	cfg.AllowList = append([]string{}, cfg.AllowList...)
	cfg.DenyList = append([]string{}, cfg.DenyList...)
	return cfg
}
