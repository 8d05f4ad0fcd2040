// Package users is the file-backed credential store: username to salted
// password hash and role.
package users

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"jackpotgate/crypto"
	"jackpotgate/fileutil"
	"jackpotgate/models"
)

const (
	RoleAdmin   = "admin"
	RoleAnalyst = "analyst"
	RoleViewer  = "viewer"
	RoleUser    = "user"

	DefaultAdminUsername = "admin"
	DefaultAdminPassword = "admin"
)

var (
	ErrAlreadyExists      = errors.New("username already exists")
	ErrNotFound           = errors.New("username does not exist")
	ErrLastAdmin          = errors.New("cannot remove or demote the last admin account")
	ErrInvalidRole        = errors.New("invalid role")
	ErrEmptyUsername      = errors.New("username is required")
	ErrEmptyPassword      = errors.New("password is required")
	ErrStorageUnavailable = errors.New("credential storage unavailable")
)

// Verification against an unknown user still pays for a full hash.
var (
	dummySalt = strings.Repeat("0", 32)
	dummyHash = strings.Repeat("0", 64)
)

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleAnalyst, RoleViewer, RoleUser:
		return true
	}
	return false
}

// Store persists credentials in a single JSON file. Every operation reads
// the file afresh so edits made by the CLI are visible to a running server.
type Store struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Load returns the current credentials. A missing file is replaced by a
// default admin/admin account; an unreadable file yields an empty map.
func (s *Store) Load() map[string]models.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	creds, err := s.loadLocked()
	if err != nil {
		return map[string]models.Credential{}
	}
	return creds
}

// Save overwrites the credential file with creds.
func (s *Store) Save(creds map[string]models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(creds)
}

// Verify checks password against the stored hash for username.
func (s *Store) Verify(username, password string) (models.Credential, bool) {
	creds := s.Load()
	cred, ok := creds[username]
	if !ok {
		crypto.VerifyPassword(password, dummySalt, dummyHash)
		return models.Credential{}, false
	}
	if !crypto.VerifyPassword(password, cred.Salt, cred.Password) {
		return models.Credential{}, false
	}
	return cred, true
}

// List returns every user sorted by username.
func (s *Store) List() ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	creds, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	out := make([]models.User, 0, len(creds))
	for name, c := range creds {
		out = append(out, models.User{Username: name, Role: c.Role})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) Add(username, password, role string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return ErrEmptyUsername
	}
	if password == "" {
		return ErrEmptyPassword
	}
	if !ValidRole(role) {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	return s.mutate(func(creds map[string]models.Credential) error {
		if _, exists := creds[username]; exists {
			return ErrAlreadyExists
		}
		cred, err := newCredential(password, role)
		if err != nil {
			return err
		}
		creds[username] = cred
		return nil
	})
}

func (s *Store) Remove(username string) error {
	return s.mutate(func(creds map[string]models.Credential) error {
		cred, ok := creds[username]
		if !ok {
			return ErrNotFound
		}
		if cred.Role == RoleAdmin && adminCount(creds) <= 1 {
			return ErrLastAdmin
		}
		delete(creds, username)
		return nil
	})
}

func (s *Store) ChangePassword(username, password string) error {
	if password == "" {
		return ErrEmptyPassword
	}
	return s.mutate(func(creds map[string]models.Credential) error {
		cred, ok := creds[username]
		if !ok {
			return ErrNotFound
		}
		updated, err := newCredential(password, cred.Role)
		if err != nil {
			return err
		}
		creds[username] = updated
		return nil
	})
}

func (s *Store) ChangeRole(username, role string) error {
	if !ValidRole(role) {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return s.mutate(func(creds map[string]models.Credential) error {
		cred, ok := creds[username]
		if !ok {
			return ErrNotFound
		}
		if cred.Role == RoleAdmin && role != RoleAdmin && adminCount(creds) <= 1 {
			return ErrLastAdmin
		}
		cred.Role = role
		creds[username] = cred
		return nil
	})
}

func (s *Store) mutate(fn func(map[string]models.Credential) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.loadLocked()
	if err != nil {
		return err
	}
	if err := fn(creds); err != nil {
		return err
	}
	return s.saveLocked(creds)
}

func (s *Store) loadLocked() (map[string]models.Credential, error) {
	creds := map[string]models.Credential{}
	err := fileutil.ReadJSON(s.path, &creds)
	switch {
	case err == nil:
		return creds, nil
	case errors.Is(err, fs.ErrNotExist):
		def, err := defaultCredentials()
		if err != nil {
			return nil, err
		}
		if err := fileutil.WriteJSONAtomic(s.path, def, 0o600); err != nil {
			s.logger.Error("Failed to persist default credentials", "path", s.path, "error", err)
		} else {
			s.logger.Warn("Created default admin account; change its password", "username", DefaultAdminUsername, "path", s.path)
		}
		return def, nil
	default:
		// The damaged file is left alone for an operator to inspect.
		s.logger.Error("Credential store unreadable, logins disabled", "path", s.path, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
}

func (s *Store) saveLocked(creds map[string]models.Credential) error {
	if err := fileutil.WriteJSONAtomic(s.path, creds, 0o600); err != nil {
		s.logger.Error("Failed to save credentials", "path", s.path, "error", err)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func defaultCredentials() (map[string]models.Credential, error) {
	cred, err := newCredential(DefaultAdminPassword, RoleAdmin)
	if err != nil {
		return nil, err
	}
	return map[string]models.Credential{DefaultAdminUsername: cred}, nil
}

func newCredential(password, role string) (models.Credential, error) {
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return models.Credential{}, fmt.Errorf("failed to generate salt: %w", err)
	}
	return models.Credential{
		Password: crypto.HashPassword(password, salt),
		Salt:     salt,
		Role:     role,
	}, nil
}

func adminCount(creds map[string]models.Credential) int {
	n := 0
	for _, c := range creds {
		if c.Role == RoleAdmin {
			n++
		}
	}
	return n
}
