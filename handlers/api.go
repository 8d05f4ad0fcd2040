package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"jackpotgate/activity"
	"jackpotgate/auth"
	"jackpotgate/i18n"
	"jackpotgate/ippolicy"
	"jackpotgate/models"
	"jackpotgate/users"

	"github.com/dchest/captcha"
)

// ErrSelfDelete is returned when an admin tries to delete their own account.
var ErrSelfDelete = errors.New("cannot delete your own account")

type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func sendJSONResponse(w http.ResponseWriter, status int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

func sendError(w http.ResponseWriter, r *http.Request, status int, key string) {
	sendJSONResponse(w, status, APIResponse{Status: "error", Message: i18n.T(i18n.DetectLanguage(r), key)})
}

// decodeJSON insists on a JSON content type, which a cross-site HTML form
// cannot send.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		sendError(w, r, http.StatusBadRequest, "InvalidRequestBody")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		sendError(w, r, http.StatusBadRequest, "InvalidRequestBody")
		return false
	}
	return true
}

func sessionData(sess *auth.Session) map[string]any {
	return map[string]any{
		"username":   sess.Username,
		"role":       sess.Role,
		"login_time": sess.LoginTime.Format(time.RFC3339),
		"ip_address": sess.IPAddress,
	}
}

func (s *Server) APILoginHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Username        string `json:"username"`
		Password        string `json:"password"`
		CaptchaID       string `json:"captcha_id"`
		CaptchaSolution string `json:"captcha_solution"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}
	lang := i18n.DetectLanguage(r)
	ctx := r.Context()

	if key := s.checkCaptcha(ctx, input.Username, input.CaptchaID, input.CaptchaSolution); key != "" {
		sendJSONResponse(w, http.StatusBadRequest, APIResponse{
			Status:  "error",
			Message: i18n.T(lang, key),
			Data:    map[string]any{"captcha_id": captcha.New()},
		})
		return
	}

	sess := &auth.Session{}
	if err := s.gate.AttemptLogin(ctx, r, sess, input.Username, input.Password); err != nil {
		resp := APIResponse{Status: "error", Message: i18n.T(lang, auth.MessageKey(err))}
		if s.captchaRequired(ctx, input.Username) {
			resp.Data = map[string]any{"captcha_id": captcha.New()}
		}
		setRetryAfter(w, err, time.Now())
		sendJSONResponse(w, statusFor(err), resp)
		return
	}

	if err := s.sessions.Save(w, r, sess); err != nil {
		s.logger.Error("Failed to save session", "username", input.Username, "error", err)
		sendError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: sessionData(sess)})
}

func (s *Server) APILogoutHandler(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Load(r)
	s.gate.Logout(r.Context(), sess)
	s.sessions.Clear(w, r)
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success"})
}

func (s *Server) APISessionHandler(w http.ResponseWriter, r *http.Request) {
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: sessionData(sessionFrom(r))})
}

// sendUserError maps credential store errors to API responses.
func (s *Server) sendUserError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, users.ErrAlreadyExists):
		sendError(w, r, http.StatusConflict, "UsernameAlreadyExists")
	case errors.Is(err, users.ErrNotFound):
		sendError(w, r, http.StatusNotFound, "UserNotFound")
	case errors.Is(err, users.ErrLastAdmin):
		sendError(w, r, http.StatusConflict, "LastAdmin")
	case errors.Is(err, ErrSelfDelete):
		sendError(w, r, http.StatusBadRequest, "CannotDeleteSelf")
	case errors.Is(err, users.ErrInvalidRole):
		sendError(w, r, http.StatusBadRequest, "InvalidRole")
	case errors.Is(err, users.ErrEmptyUsername):
		sendError(w, r, http.StatusBadRequest, "UsernameRequired")
	case errors.Is(err, users.ErrEmptyPassword):
		sendError(w, r, http.StatusBadRequest, "PasswordRequired")
	case errors.Is(err, users.ErrStorageUnavailable):
		sendError(w, r, http.StatusServiceUnavailable, "StorageUnavailable")
	default:
		s.logger.Error("User management failed", "error", err)
		sendError(w, r, http.StatusInternalServerError, "InternalError")
	}
}

func (s *Server) APIListUsersHandler(w http.ResponseWriter, r *http.Request) {
	list, err := s.users.List()
	if err != nil {
		s.sendUserError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: list})
}

func (s *Server) APIAddUserHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}
	if input.Role == "" {
		input.Role = users.RoleUser
	}
	if err := s.users.Add(input.Username, input.Password, input.Role); err != nil {
		s.sendUserError(w, r, err)
		return
	}
	s.logger.Info("User added", "admin", sessionFrom(r).Username, "username", input.Username, "role", input.Role)
	sendJSONResponse(w, http.StatusCreated, APIResponse{
		Status: "success",
		Data:   models.User{Username: input.Username, Role: input.Role},
	})
}

func (s *Server) APIDeleteUserHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	admin := sessionFrom(r).Username
	if name == admin {
		s.sendUserError(w, r, ErrSelfDelete)
		return
	}
	if err := s.users.Remove(name); err != nil {
		s.sendUserError(w, r, err)
		return
	}
	s.logger.Info("User removed", "admin", admin, "username", name)
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success"})
}

func (s *Server) APIChangeRoleHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Role string `json:"role"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}
	name := r.PathValue("name")
	if err := s.users.ChangeRole(name, input.Role); err != nil {
		s.sendUserError(w, r, err)
		return
	}
	s.logger.Info("User role changed", "admin", sessionFrom(r).Username, "username", name, "role", input.Role)
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: models.User{Username: name, Role: input.Role}})
}

func (s *Server) APIChangePasswordHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}
	name := r.PathValue("name")
	if err := s.users.ChangePassword(name, input.Password); err != nil {
		s.sendUserError(w, r, err)
		return
	}
	s.logger.Info("User password changed", "admin", sessionFrom(r).Username, "username", name)
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success"})
}

func (s *Server) APIGetIPConfigHandler(w http.ResponseWriter, r *http.Request) {
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: s.policy.Policy()})
}

func (s *Server) APISetIPConfigHandler(w http.ResponseWriter, r *http.Request) {
	var cfg models.IPConfig
	if !decodeJSON(w, r, &cfg) {
		return
	}
	if err := s.policy.Save(cfg); err != nil {
		if errors.Is(err, ippolicy.ErrInvalidMode) || errors.Is(err, ippolicy.ErrInvalidEntry) {
			sendJSONResponse(w, http.StatusBadRequest, APIResponse{
				Status:  "error",
				Message: i18n.T(i18n.DetectLanguage(r), "InvalidIPConfig"),
				Data:    map[string]string{"detail": err.Error()},
			})
			return
		}
		s.logger.Error("Failed to save IP configuration", "error", err)
		sendError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}
	s.logger.Info("IP configuration updated", "admin", sessionFrom(r).Username, "mode", cfg.Mode)
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: s.policy.Policy()})
}

func (s *Server) APIListRateLimitsHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := s.limiter.Entries(r.Context())
	if err != nil {
		s.logger.Error("Failed to list rate limits", "error", err)
		sendError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: entries})
}

func (s *Server) APIClearRateLimitsHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.limiter.ClearAll(r.Context()); err != nil {
		s.logger.Error("Failed to clear rate limits", "error", err)
		sendError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}
	s.logger.Info("Rate limits cleared", "admin", sessionFrom(r).Username)
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success"})
}

func activityFilter(r *http.Request) activity.Filter {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	return activity.Filter{
		Username:  q.Get("username"),
		Status:    q.Get("status"),
		Activity:  q.Get("activity"),
		IPAddress: q.Get("ip"),
		Limit:     limit,
	}
}

func (s *Server) APILoginActivityHandler(w http.ResponseWriter, r *http.Request) {
	rows, err := s.activity.LoginActivity(activityFilter(r))
	if err != nil {
		s.logger.Error("Failed to read login activity", "error", err)
		sendError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: rows})
}

func (s *Server) APIIPActivityHandler(w http.ResponseWriter, r *http.Request) {
	rows, err := s.activity.IPActivity(activityFilter(r))
	if err != nil {
		s.logger.Error("Failed to read IP activity", "error", err)
		sendError(w, r, http.StatusInternalServerError, "InternalError")
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: rows})
}
