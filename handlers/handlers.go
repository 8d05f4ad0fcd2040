package handlers

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"jackpotgate/activity"
	"jackpotgate/auth"
	"jackpotgate/i18n"
	"jackpotgate/ippolicy"
	"jackpotgate/models"
	"jackpotgate/ratelimit"
	"jackpotgate/users"

	"github.com/dchest/captcha"
	"github.com/gorilla/csrf"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// Page view tags written to the IP activity stream.
const (
	PageViewHome  = "page_view_home"
	PageViewAdmin = "page_view_admin"
)

type Deps struct {
	AppName  string
	Gate     *auth.Gate
	Sessions *auth.SessionStore
	Users    *users.Store
	Policy   *ippolicy.Store
	Limiter  *ratelimit.Limiter
	Activity *activity.Logger
	Logger   *slog.Logger
	// CaptchaAfterFailures > 0 demands a solved captcha once a username has
	// that many failures in the current window.
	CaptchaAfterFailures int
}

type Server struct {
	appName      string
	gate         *auth.Gate
	sessions     *auth.SessionStore
	users        *users.Store
	policy       *ippolicy.Store
	limiter      *ratelimit.Limiter
	activity     *activity.Logger
	logger       *slog.Logger
	captchaAfter int
}

func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		appName:      d.AppName,
		gate:         d.Gate,
		sessions:     d.Sessions,
		users:        d.Users,
		policy:       d.Policy,
		limiter:      d.Limiter,
		activity:     d.Activity,
		logger:       logger,
		captchaAfter: d.CaptchaAfterFailures,
	}
}

func (s *Server) RegisterHandlers(mux *http.ServeMux) {
	static, _ := fs.Sub(staticFS, "static")
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))
	mux.Handle("GET /captcha/", captcha.Server(captcha.StdWidth, captcha.StdHeight))

	mux.HandleFunc("GET /{$}", s.requireSession(s.DashboardHandler))
	mux.HandleFunc("GET /login", s.LoginPageHandler)
	mux.HandleFunc("POST /login", s.LoginHandler)
	mux.HandleFunc("POST /logout", s.LogoutHandler)
	mux.HandleFunc("GET /admin", s.requireAdmin(s.AdminHandler))
	mux.HandleFunc("POST /admin/ip-config", s.requireAdmin(s.AdminIPConfigHandler))
	mux.HandleFunc("POST /admin/rate-limits/clear", s.requireAdmin(s.AdminClearRateLimitsHandler))

	mux.HandleFunc("POST /api/v1/login", s.APILoginHandler)
	mux.HandleFunc("POST /api/v1/logout", s.APILogoutHandler)
	mux.HandleFunc("GET /api/v1/session", s.requireSession(s.APISessionHandler))

	mux.HandleFunc("GET /api/v1/admin/users", s.requireAdmin(s.APIListUsersHandler))
	mux.HandleFunc("POST /api/v1/admin/users", s.requireAdmin(s.APIAddUserHandler))
	mux.HandleFunc("DELETE /api/v1/admin/users/{name}", s.requireAdmin(s.APIDeleteUserHandler))
	mux.HandleFunc("PUT /api/v1/admin/users/{name}/role", s.requireAdmin(s.APIChangeRoleHandler))
	mux.HandleFunc("PUT /api/v1/admin/users/{name}/password", s.requireAdmin(s.APIChangePasswordHandler))
	mux.HandleFunc("GET /api/v1/admin/ip-config", s.requireAdmin(s.APIGetIPConfigHandler))
	mux.HandleFunc("PUT /api/v1/admin/ip-config", s.requireAdmin(s.APISetIPConfigHandler))
	mux.HandleFunc("GET /api/v1/admin/rate-limits", s.requireAdmin(s.APIListRateLimitsHandler))
	mux.HandleFunc("DELETE /api/v1/admin/rate-limits", s.requireAdmin(s.APIClearRateLimitsHandler))
	mux.HandleFunc("GET /api/v1/admin/activity/logins", s.requireAdmin(s.APILoginActivityHandler))
	mux.HandleFunc("GET /api/v1/admin/activity/ip", s.requireAdmin(s.APIIPActivityHandler))
}

// statusFor maps a gate error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrIPBlocked):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, auth.ErrBadCredentials):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func setRetryAfter(w http.ResponseWriter, err error, now time.Time) {
	var rl *auth.RateLimitedError
	if errors.As(err, &rl) && rl.Until.After(now) {
		secs := int(rl.Until.Sub(now).Round(time.Second) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
}

// captchaRequired reports whether the next attempt for username must carry
// a solved captcha.
func (s *Server) captchaRequired(ctx context.Context, username string) bool {
	if s.captchaAfter <= 0 || username == "" {
		return false
	}
	n, err := s.limiter.Attempts(ctx, ratelimit.UserKey(username))
	if err != nil {
		s.logger.Error("Failed to read attempt count", "username", username, "error", err)
		return false
	}
	return n >= s.captchaAfter
}

// checkCaptcha returns the i18n key of the captcha problem, or "".
func (s *Server) checkCaptcha(ctx context.Context, username, id, solution string) string {
	if !s.captchaRequired(ctx, username) {
		return ""
	}
	if id == "" || solution == "" {
		return "CaptchaRequired"
	}
	if !captcha.VerifyString(id, solution) {
		return "CaptchaInvalid"
	}
	return ""
}

func (s *Server) LoginPageHandler(w http.ResponseWriter, r *http.Request) {
	if s.gate.IsSessionValid(s.sessions.Load(r)) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	data := map[string]any{"Username": ""}
	if flashes := s.sessions.Flashes(w, r); len(flashes) > 0 {
		data["Notice"] = i18n.T(i18n.DetectLanguage(r), flashes[0])
	}
	s.renderTemplate(w, r, http.StatusOK, "login.html", data)
}

func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	username := r.FormValue("username")
	password := r.FormValue("password")
	ctx := r.Context()

	if key := s.checkCaptcha(ctx, username, r.FormValue("captcha_id"), r.FormValue("captcha_solution")); key != "" {
		s.renderTemplate(w, r, http.StatusBadRequest, "login.html", map[string]any{
			"Error":     i18n.T(lang, key),
			"Username":  username,
			"CaptchaID": captcha.New(),
		})
		return
	}

	sess := &auth.Session{}
	if err := s.gate.AttemptLogin(ctx, r, sess, username, password); err != nil {
		data := map[string]any{
			"Error":    i18n.T(lang, auth.MessageKey(err)),
			"Username": username,
		}
		if s.captchaRequired(ctx, username) {
			data["CaptchaID"] = captcha.New()
		}
		setRetryAfter(w, err, time.Now())
		s.renderTemplate(w, r, statusFor(err), "login.html", data)
		return
	}

	if err := s.sessions.Save(w, r, sess); err != nil {
		s.logger.Error("Failed to save session", "username", username, "error", err)
		http.Error(w, i18n.T(lang, "InternalError"), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Load(r)
	s.gate.Logout(r.Context(), sess)
	s.sessions.Clear(w, r)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	s.gate.LogPageView(r.Context(), sess, PageViewHome)
	s.renderTemplate(w, r, http.StatusOK, "dashboard.html", map[string]any{
		"Session": sess,
		"IsAdmin": sess.Role == users.RoleAdmin,
	})
}

const adminActivityRows = 50

func (s *Server) AdminHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	s.gate.LogPageView(r.Context(), sess, PageViewAdmin)

	userList, err := s.users.List()
	if err != nil {
		s.logger.Error("Failed to list users", "error", err)
	}
	limits, err := s.limiter.Entries(r.Context())
	if err != nil {
		s.logger.Error("Failed to list rate limits", "error", err)
	}
	logins, err := s.activity.LoginActivity(activity.Filter{Limit: adminActivityRows})
	if err != nil {
		s.logger.Error("Failed to read login activity", "error", err)
	}
	ipRows, err := s.activity.IPActivity(activity.Filter{Limit: adminActivityRows})
	if err != nil {
		s.logger.Error("Failed to read IP activity", "error", err)
	}

	data := map[string]any{
		"Session":       sess,
		"IsAdmin":       true,
		"Users":         userList,
		"Policy":        s.policy.Policy(),
		"RateLimits":    limits,
		"LoginActivity": logins,
		"IPActivity":    ipRows,
		"Modes":         []models.IPMode{models.ModeAllowAll, models.ModeDenyAll, models.ModeUseLists},
	}
	if flashes := s.sessions.Flashes(w, r); len(flashes) > 0 {
		data["Notice"] = i18n.T(i18n.DetectLanguage(r), flashes[0])
	}
	s.renderTemplate(w, r, http.StatusOK, "admin.html", data)
}

// splitLines turns a textarea into list entries, one per line.
func splitLines(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' })
}

func (s *Server) AdminIPConfigHandler(w http.ResponseWriter, r *http.Request) {
	cfg := models.IPConfig{
		Mode:      models.IPMode(r.FormValue("mode")),
		AllowList: splitLines(r.FormValue("allow_list")),
		DenyList:  splitLines(r.FormValue("deny_list")),
	}
	notice := "IPConfigSaved"
	if err := s.policy.Save(cfg); err != nil {
		s.logger.Warn("Rejected IP configuration", "admin", sessionFrom(r).Username, "error", err)
		notice = "InvalidIPConfig"
	} else {
		s.logger.Info("IP configuration updated", "admin", sessionFrom(r).Username, "mode", cfg.Mode)
	}
	s.sessions.AddFlash(w, r, notice)
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}

func (s *Server) AdminClearRateLimitsHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.limiter.ClearAll(r.Context()); err != nil {
		s.logger.Error("Failed to clear rate limits", "error", err)
		http.Error(w, i18n.T(i18n.DetectLanguage(r), "InternalError"), http.StatusInternalServerError)
		return
	}
	s.logger.Info("Rate limits cleared", "admin", sessionFrom(r).Username)
	s.sessions.AddFlash(w, r, "RateLimitsCleared")
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}

func (s *Server) renderTemplate(w http.ResponseWriter, r *http.Request, status int, name string, data map[string]any) {
	lang := i18n.DetectLanguage(r)

	funcMap := template.FuncMap{
		"T": func(key string) string {
			return i18n.T(lang, key)
		},
		"join": func(list []string) string {
			return strings.Join(list, "\n")
		},
		"fmtTime": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format(activity.TimestampLayout)
		},
	}

	tmpl, err := template.New(name).Funcs(funcMap).ParseFS(templateFS, "templates/layout.html", "templates/"+name)
	if err != nil {
		s.logger.Error("Failed to parse template", "template", name, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if data == nil {
		data = map[string]any{}
	}
	if _, exists := data["AppName"]; !exists {
		data["AppName"] = s.appName
	}
	data["Lang"] = lang
	data["csrfField"] = csrf.TemplateField(r)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.ExecuteTemplate(w, "layout", data); err != nil {
		s.logger.Error("Failed to render template", "template", name, "error", err)
	}
}
