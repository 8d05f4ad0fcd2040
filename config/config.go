package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"

	ResolverRequest  = "request"
	ResolverExternal = "external"

	SessionKeyEnv = "JACKPOTGATE_SESSION_KEY"
)

type Config struct {
	AppName    string `json:"app_name"`
	ListenIP   string `json:"listen_ip"`
	ListenPort int    `json:"listen_port"`
	SessionKey string `json:"session_key"`
	// SecureCookies marks the session and CSRF cookies Secure; turn it off
	// only for plain-HTTP development.
	SecureCookies bool `json:"secure_cookies"`

	DataDir          string `json:"data_dir"`
	RateLimitBackend string `json:"rate_limit_backend"`
	SQLitePath       string `json:"sqlite_path"`

	IPResolver string `json:"ip_resolver"`
	// TrustedProxies lists the reverse proxies (IP or CIDR) whose
	// X-Forwarded-For and X-Real-IP headers are believed. Empty means the
	// TCP peer address is always the client.
	TrustedProxies    []string `json:"trusted_proxies"`
	IPLookupURL       string   `json:"ip_lookup_url"`
	IPLookupTimeoutMS int      `json:"ip_lookup_timeout_ms"`
	GeoIPDB           string   `json:"geoip_db"`

	SessionMaxAgeHours   int  `json:"session_max_age_hours"`
	CaptchaAfterFailures int  `json:"captcha_after_failures"`
	ResetOnSuccess       bool `json:"reset_on_success"`

	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`
	LogJSON  bool   `json:"log_json"`
}

var AppConfig = Default()

// Default returns the configuration used when config.json leaves a field
// unset.
func Default() Config {
	return Config{
		AppName:            "Jackpot Analytics",
		ListenIP:           "127.0.0.1",
		ListenPort:         8080,
		SecureCookies:      false,
		DataDir:            ".",
		RateLimitBackend:   BackendJSON,
		IPResolver:         ResolverRequest,
		IPLookupURL:        "https://api.ipify.org",
		IPLookupTimeoutMS:  2000,
		SessionMaxAgeHours: 8,
		LogLevel:           "info",
	}
}

func LoadConfig(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	cfg := Default()
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return err
	}
	AppConfig = cfg
	return Finalize()
}

// Finalize applies the environment override and generates a session key
// when none is configured.
func Finalize() error {
	if envKey := os.Getenv(SessionKeyEnv); envKey != "" {
		AppConfig.SessionKey = envKey
	}

	if AppConfig.SessionKey == "" || AppConfig.SessionKey == "CHANGE_ME_IN_PRODUCTION" {
		slog.Warn("No session key configured. Generating a random key. Sessions will be invalidated on restart.")
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err != nil {
			return err
		}
		AppConfig.SessionKey = hex.EncodeToString(randomKey)
	}
	return nil
}

func (c Config) CredentialsPath() string { return filepath.Join(c.DataDir, "credentials.json") }
func (c Config) IPConfigPath() string    { return filepath.Join(c.DataDir, "ip_config.json") }
func (c Config) LogsDir() string         { return filepath.Join(c.DataDir, "logs") }
func (c Config) RateLimitPath() string   { return filepath.Join(c.LogsDir(), "rate_limits.json") }

func (c Config) DBPath() string {
	if c.SQLitePath != "" {
		return c.SQLitePath
	}
	return filepath.Join(c.DataDir, "jackpotgate.db")
}

func (c Config) SessionMaxAge() time.Duration {
	if c.SessionMaxAgeHours <= 0 {
		return 8 * time.Hour
	}
	return time.Duration(c.SessionMaxAgeHours) * time.Hour
}

func (c Config) IPLookupTimeout() time.Duration {
	return time.Duration(c.IPLookupTimeoutMS) * time.Millisecond
}
