package auth

import (
	"crypto/sha256"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

const (
	SessionName = "jackpotgate-session"
	flashName   = "jackpotgate-flash"

	// CookieGrace is how long the cookie outlives the login, so an expired
	// session still reaches the gate and the expiry notice can be shown.
	CookieGrace = 24 * time.Hour
)

// Session is the identity carried by an authenticated browser.
type Session struct {
	Authenticated bool
	Username      string
	Role          string
	LoginTime     time.Time
	IPAddress     string
}

// Clear resets the identity fields in place.
func (s *Session) Clear() {
	*s = Session{}
}

// SessionStore keeps Session values in a signed, encrypted cookie.
type SessionStore struct {
	store *sessions.CookieStore
}

// NewSessionStore derives the cookie keys from the configured session key.
// maxAge is the login lifetime; the cookie itself lasts CookieGrace longer.
func NewSessionStore(sessionKey string, secure bool, maxAge time.Duration) *SessionStore {
	// Derive two 32-byte keys from the session key to ensure secure encryption
	// Auth key for signing (HMAC)
	authKey := sha256.Sum256([]byte(sessionKey + "auth"))
	// Encryption key for content encryption (AES)
	encKey := sha256.Sum256([]byte(sessionKey + "encryption"))

	store := sessions.NewCookieStore(authKey[:], encKey[:])
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int((maxAge + CookieGrace) / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	store.MaxAge(store.Options.MaxAge)
	return &SessionStore{store: store}
}

// Load decodes the session from the request. A missing or tampered cookie
// yields an unauthenticated session.
func (s *SessionStore) Load(r *http.Request) *Session {
	session, _ := s.store.Get(r, SessionName)
	sess := &Session{}
	if v, ok := session.Values["authenticated"].(bool); ok {
		sess.Authenticated = v
	}
	sess.Username, _ = session.Values["username"].(string)
	sess.Role, _ = session.Values["role"].(string)
	sess.IPAddress, _ = session.Values["ip_address"].(string)
	if ts, ok := session.Values["login_time"].(int64); ok {
		sess.LoginTime = time.Unix(ts, 0)
	}
	return sess
}

func (s *SessionStore) Save(w http.ResponseWriter, r *http.Request, sess *Session) error {
	session, _ := s.store.Get(r, SessionName)
	if !sess.Authenticated {
		session.Values = map[any]any{}
		session.Options.MaxAge = -1
		return session.Save(r, w)
	}
	session.Values["authenticated"] = true
	session.Values["username"] = sess.Username
	session.Values["role"] = sess.Role
	session.Values["ip_address"] = sess.IPAddress
	session.Values["login_time"] = sess.LoginTime.Unix()
	return session.Save(r, w)
}

func (s *SessionStore) Clear(w http.ResponseWriter, r *http.Request) error {
	session, _ := s.store.Get(r, SessionName)
	session.Values = map[any]any{}
	session.Options.MaxAge = -1
	return session.Save(r, w)
}

// AddFlash queues a one-shot message key for the next page render.
func (s *SessionStore) AddFlash(w http.ResponseWriter, r *http.Request, key string) error {
	session, _ := s.store.Get(r, flashName)
	session.AddFlash(key)
	return session.Save(r, w)
}

// Flashes returns and consumes queued message keys.
func (s *SessionStore) Flashes(w http.ResponseWriter, r *http.Request) []string {
	session, _ := s.store.Get(r, flashName)
	raw := session.Flashes()
	if len(raw) == 0 {
		return nil
	}
	session.Save(r, w)
	out := make([]string, 0, len(raw))
	for _, f := range raw {
		if key, ok := f.(string); ok {
			out = append(out, key)
		}
	}
	return out
}
