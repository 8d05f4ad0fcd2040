package cmd

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/csrf"
	"github.com/spf13/cobra"

	"jackpotgate/auth"
	"jackpotgate/config"
	"jackpotgate/handlers"
	"jackpotgate/i18n"
	"jackpotgate/logging"
)

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the login gate HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.AppConfig
			if cmd.Flags().Changed("port") {
				cfg.ListenPort = port
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port (overrides config)")
	return cmd
}

func runServe(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := i18n.Load(); err != nil {
		return fmt.Errorf("error loading translations: %w", err)
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	resolver, err := a.resolver()
	if err != nil {
		return err
	}

	if err := a.policy.Watch(ctx); err != nil {
		slog.Warn("IP policy hot reload disabled", "error", err)
	}

	gate := auth.NewGate(auth.Options{
		Credentials:    a.users,
		Policy:         a.policy,
		Limiter:        a.limiter,
		Activity:       a.activity,
		Resolver:       resolver,
		Geo:            a.geo,
		Logger:         logging.Gate(),
		MaxSessionAge:  cfg.SessionMaxAge(),
		ResetOnSuccess: cfg.ResetOnSuccess,
	})
	srv := handlers.NewServer(handlers.Deps{
		AppName:              cfg.AppName,
		Gate:                 gate,
		Sessions:             auth.NewSessionStore(cfg.SessionKey, cfg.SecureCookies, cfg.SessionMaxAge()),
		Users:                a.users,
		Policy:               a.policy,
		Limiter:              a.limiter,
		Activity:             a.activity,
		Logger:               logging.HTTP(),
		CaptchaAfterFailures: cfg.CaptchaAfterFailures,
	})

	mux := http.NewServeMux()
	srv.RegisterHandlers(mux)

	addr := fmt.Sprintf("%s:%d", cfg.ListenIP, cfg.ListenPort)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handlers.SecurityHeadersMiddleware(handlers.CORSMiddleware(protectForms(cfg, mux))),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server starting", "addr", addr, "app", cfg.AppName, "rate_limit_backend", cfg.RateLimitBackend, "ip_resolver", cfg.IPResolver)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// protectForms applies CSRF protection to the HTML routes. The JSON API
// is left out; it only accepts application/json bodies.
func protectForms(cfg config.Config, next http.Handler) http.Handler {
	key := sha256.Sum256([]byte(cfg.SessionKey + "csrf"))
	protected := csrf.Protect(
		key[:],
		csrf.Secure(cfg.SecureCookies),
		csrf.Path("/"),
		csrf.FieldName("csrf_token"),
	)(next)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		if !cfg.SecureCookies {
			r = csrf.PlaintextHTTPRequest(r)
		}
		protected.ServeHTTP(w, r)
	})
}
