// Package server sets up the HTTP server, router and every route.
//
// COMPOSITION ROOT:
// This is the only place that knows about concrete types. It opens the
// credential store chosen by DATABASE_URL, builds the token, password, OTP
// and SMS components, hands them to service.AuthService, and mounts the
// handlers. Every other package receives what it needs through its
// constructor.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/incubator/internal/auth"
	"github.com/sakif/incubator/internal/config"
	"github.com/sakif/incubator/internal/handler"
	"github.com/sakif/incubator/internal/middleware"
	"github.com/sakif/incubator/internal/model"
	"github.com/sakif/incubator/internal/otp"
	"github.com/sakif/incubator/internal/repository"
	pgRepo "github.com/sakif/incubator/internal/repository/postgres"
	sqliteRepo "github.com/sakif/incubator/internal/repository/sqlite"
	"github.com/sakif/incubator/internal/service"
	"github.com/sakif/incubator/internal/sms"
)

const (
	rateWindow     = 15 * time.Minute
	otpSendLimit   = 5
	otpVerifyLimit = 10
	passwordLimit  = 20

	sweepInterval   = time.Minute
	shutdownTimeout = 30 * time.Second
)

// store is what the server needs from a credential store backend.
type store interface {
	repository.UserRepository
	Close() error
}

// Server owns the router and every long-lived resource behind it.
type Server struct {
	router *chi.Mux
	cfg    *config.Config
	logger *slog.Logger
	store  store
	ledger *otp.Ledger
}

// Option customizes a Server before its routes are mounted.
type Option func(*options)

type options struct {
	passwordCost int
}

// WithPasswordCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func WithPasswordCost(cost int) Option {
	return func(o *options) { o.passwordCost = cost }
}

// New opens the credential store, wires every component and mounts the
// routes. The OTP sweeper starts here and stops in Close.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	o := options{passwordCost: auth.DefaultCost}
	for _, opt := range opts {
		opt(&o)
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	phonePattern, err := regexp.Compile(cfg.OTP.PhonePattern)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("compiling phone pattern: %w", err)
	}

	ledger := otp.NewLedger(otp.NewMemoryStore(), cfg.OTP.TTL, cfg.OTP.MaxAttempts, logger)

	sender := sms.NewHTTPSender(cfg.SMS.APIKey, cfg.SMS.APIURL, cfg.SMS.SenderID, cfg.SMS.Timeout)
	sender.SetCodeTTL(cfg.OTP.TTL)
	if !sender.Enabled() {
		logger.Warn("SMS provider not configured, OTP delivery is mock only",
			slog.Bool("mock_fallback", cfg.MockFallback()))
	}

	svc := service.NewAuthService(
		st,
		tokens,
		auth.NewPasswordServiceWithCost(o.passwordCost),
		ledger,
		sender,
		service.Options{PhonePattern: phonePattern, AllowMockFallback: cfg.MockFallback()},
		logger,
	)

	var google handler.OAuthProvider
	if cfg.Google.Enabled() {
		google = auth.NewGoogleProvider(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.CallbackURL)
	} else {
		logger.Info("Google credentials not set, Google sign-in routes disabled")
	}

	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		logger: logger,
		store:  st,
		ledger: ledger,
	}
	s.routes(svc, tokens, google)

	ledger.Start(sweepInterval)
	return s, nil
}

// openStore picks the backend from DATABASE_URL.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store, error) {
	kind, dsn, err := cfg.Store()
	if err != nil {
		return nil, err
	}

	switch kind {
	case config.StorePostgres:
		db, err := pgRepo.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		logger.Info("credential store ready", slog.String("kind", kind))
		return db, nil

	default:
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		db, err := sqliteRepo.New(dsn)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		logger.Info("credential store ready", slog.String("kind", kind), slog.String("path", dsn))
		return db, nil
	}
}

// routes mounts every endpoint.
//
// ROUTE STRUCTURE:
// POST /register, /login               password sign-in (rate limited)
// GET  /auth/google[/callback]         Google sign-in (only when configured)
// POST /otp/send, /otp/resend          issue a code (rate limited)
// POST /otp/verify                     sign in with a code (rate limited)
// GET  /verify, /me                    current session (RequireAuth)
// GET  /admin/users/{id}               any user (RequireAuth + admin role)
// GET  /healthz                        store reachability
//
// MIDDLEWARE ORDER:
// RequestID first so every later log line carries it, RealIP before the
// rate limiters so they key on the client and not the proxy, Recoverer
// innermost of the globals so a panic is still logged as a 500.
func (s *Server) routes(svc *service.AuthService, tokens *auth.TokenService, google handler.OAuthProvider) {
	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)

	mode := handler.Mode{Production: s.cfg.IsProduction(), Verbose: s.cfg.IsDevelopment()}
	authH := handler.NewAuthHandler(svc, google, s.cfg.FrontendURL, mode, s.logger)
	otpH := handler.NewOTPHandler(svc, mode, s.logger)
	healthH := handler.NewHealthHandler(s.store, s.logger)

	off := s.cfg.RateLimitDisabled

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(passwordLimit, rateWindow, off))
		r.Post("/register", authH.HandleRegister)
		r.Post("/login", authH.HandleLogin)
	})

	if authH.GoogleEnabled() {
		r.Get("/auth/google", authH.HandleGoogleLogin)
		r.Get("/auth/google/callback", authH.HandleGoogleCallback)
	}

	r.Route("/otp", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(otpSendLimit, rateWindow, off))
			r.Post("/send", otpH.HandleSend)
			r.Post("/resend", otpH.HandleResend)
		})
		r.With(middleware.RateLimit(otpVerifyLimit, rateWindow, off)).Post("/verify", otpH.HandleVerify)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(tokens, s.store, s.logger))
		r.Get("/verify", authH.HandleVerify)
		r.Get("/me", authH.HandleMe)
		r.With(auth.RequireRole(model.RoleAdmin)).Get("/admin/users/{id}", authH.HandleAdminGetUser)
	})

	r.Get("/healthz", healthH.HandleHealth)
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close stops the OTP sweeper and closes the credential store.
func (s *Server) Close() error {
	s.ledger.Stop()
	return s.store.Close()
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
//
// GRACEFUL SHUTDOWN:
//  1. stop accepting connections
//  2. let in-flight requests finish (up to 30s)
//  3. stop the sweeper and close the store
func (s *Server) Start(ctx context.Context) error {
	defer s.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.cfg.Port),
			slog.String("env", s.cfg.Env),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
