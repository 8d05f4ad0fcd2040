// Package activity appends login outcomes and per-IP events to the two CSV
// audit streams under the logs directory and reads them back for the admin
// panel.
package activity

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"jackpotgate/models"
)

// TimestampLayout is the local-time format of the Timestamp column.
const TimestampLayout = "2006-01-02 15:04:05"

const (
	LoginFile = "login_activity.csv"
	IPFile    = "ip_activity.csv"
)

// Login statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// IP activity types.
const (
	SuccessfulLogin = "successful_login"
	FailedLogin     = "failed_login"
	BlockedIP       = "blocked_ip"
	RateLimited     = "rate_limited"
	RateLimitedUser = "rate_limited_user"
	RateLimitedIP   = "rate_limited_ip"
	Logout          = "logout"
)

var (
	loginHeader = []string{"Timestamp", "Username", "Status", "IP Address"}
	ipHeader    = []string{"Timestamp", "Username", "Activity", "IP Address"}
)

// Logger writes both audit streams. Appends are serialized.
type Logger struct {
	mu      sync.Mutex
	dir     string
	logger  *slog.Logger
	nowFunc func() time.Time
}

func New(logsDir string, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{dir: logsDir, logger: logger, nowFunc: time.Now}
}

// SetNow replaces the clock used for timestamps.
func (l *Logger) SetNow(now func() time.Time) {
	l.nowFunc = now
}

func (l *Logger) Dir() string { return l.dir }

// LogLogin records a login outcome.
func (l *Logger) LogLogin(username, status, ip string) error {
	ts := l.nowFunc().Format(TimestampLayout)
	l.logger.Info("Login activity", "username", username, "status", status, "ip", ip)
	return l.append(LoginFile, loginHeader, []string{ts, username, status, ip})
}

// LogIPActivity records an IP-level event such as blocked_ip or a page view.
func (l *Logger) LogIPActivity(username, activityType, ip string) error {
	ts := l.nowFunc().Format(TimestampLayout)
	l.logger.Info("IP activity", "username", username, "activity", activityType, "ip", ip)
	return l.append(IPFile, ipHeader, []string{ts, username, activityType, ip})
}

func (l *Logger) append(name string, header, record []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	path := filepath.Join(l.dir, name)

	writeHeader := false
	if info, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) || (err == nil && info.Size() == 0) {
		writeHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		l.logger.Error("Failed to open activity log", "path", path, "error", err)
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		w.Write(header)
	}
	w.Write(record)
	w.Flush()
	if err := w.Error(); err != nil {
		l.logger.Error("Failed to write activity log", "path", path, "error", err)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// Filter narrows the rows returned by the readers. Empty fields match
// everything; Limit <= 0 returns all matching rows.
type Filter struct {
	Username  string
	Status    string
	Activity  string
	IPAddress string
	Limit     int
}

// LoginActivity returns login rows newest first.
func (l *Logger) LoginActivity(f Filter) ([]models.LoginActivity, error) {
	rows, err := l.read(LoginFile)
	if err != nil {
		return nil, err
	}
	out := []models.LoginActivity{}
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		e := models.LoginActivity{Timestamp: r[0], Username: r[1], Status: r[2], IPAddress: r[3]}
		if !matchField(f.Username, e.Username) || !matchField(f.Status, e.Status) || !matchField(f.IPAddress, e.IPAddress) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// IPActivity returns IP activity rows newest first.
func (l *Logger) IPActivity(f Filter) ([]models.IPActivity, error) {
	rows, err := l.read(IPFile)
	if err != nil {
		return nil, err
	}
	out := []models.IPActivity{}
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		e := models.IPActivity{Timestamp: r[0], Username: r[1], Activity: r[2], IPAddress: r[3]}
		if !matchField(f.Username, e.Username) || !matchField(f.Activity, e.Activity) || !matchField(f.IPAddress, e.IPAddress) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// read returns the data rows of a stream, skipping the header and any row
// without four columns. A missing file yields no rows.
func (l *Logger) read(name string) ([][]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(filepath.Join(l.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var rows [][]string
	first := true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			l.logger.Warn("Skipping malformed activity row", "file", name, "error", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		if first {
			first = false
			if len(rec) > 0 && rec[0] == "Timestamp" {
				continue
			}
		}
		if len(rec) < 4 {
			continue
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

func matchField(want, got string) bool {
	return want == "" || want == got
}
