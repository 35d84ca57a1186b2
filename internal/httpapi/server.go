package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/coverbridge/auth-service/internal/audit"
	"github.com/coverbridge/auth-service/internal/auth"
	"github.com/coverbridge/auth-service/internal/metrics"
	"github.com/coverbridge/auth-service/internal/metrics/promexport"
	"github.com/coverbridge/auth-service/internal/token"
)

// Config carries the HTTP-boundary tunables.
type Config struct {
	CORSOrigins []string
}

// Deps wires the server to its collaborators. Service and Tokens are
// required; Metrics, Emitter and Logger degrade to safe no-ops.
type Deps struct {
	Service *auth.Service
	Tokens  *token.Manager
	Metrics *metrics.Metrics
	Emitter *audit.Emitter
	Logger  *zap.Logger
}

// Server is the REST boundary. Build one with NewServer and mount Handler.
type Server struct {
	svc     *auth.Service
	tokens  *token.Manager
	metrics *metrics.Metrics
	emitter *audit.Emitter
	logger  *zap.Logger
	cfg     Config
}

func NewServer(deps Deps, cfg Config) (*Server, error) {
	if deps.Service == nil {
		return nil, errors.New("httpapi: auth service is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("httpapi: token manager is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	return &Server{
		svc:     deps.Service,
		tokens:  deps.Tokens,
		metrics: deps.Metrics,
		emitter: deps.Emitter,
		logger:  deps.Logger,
		cfg:     cfg,
	}, nil
}

// Handler assembles the full route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.captureOrigin)
	r.Use(s.logRequests)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/auth", func(api chi.Router) {
		api.Post("/register", s.handleRegister)
		api.Post("/login", s.handleLogin)
		api.Post("/refresh", s.handleRefresh)
		api.Post("/forgot-password", s.handleForgotPassword)
		api.Post("/reset-password", s.handleResetPassword)
		api.Post("/verify-email", s.handleVerifyEmail)
		api.Post("/resend-verification", s.handleResendVerification)

		api.Group(func(priv chi.Router) {
			priv.Use(s.requireAuth)
			priv.Post("/enable-mfa", s.handleEnableMFA)
			priv.Post("/disable-mfa", s.handleDisableMFA)
			priv.Post("/logout", s.handleLogout)
			priv.Get("/me", s.handleMe)

			priv.Route("/admin", func(adm chi.Router) {
				adm.With(s.requirePermission(auth.PermUnlock)).Post("/unlock", s.handleAdminUnlock)
				adm.With(s.requirePermission(auth.PermSetStatus)).Post("/status", s.handleAdminStatus)
			})
		})
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/metrics/prometheus", promexport.New(snapshotSource{s}).Handler().ServeHTTP)

	return r
}

// snapshotSource feeds the scrape exporter from the server's counters and
// the emitter's drop count.
type snapshotSource struct {
	s *Server
}

func (src snapshotSource) TakeSnapshot() metrics.Snapshot { return src.s.metrics.TakeSnapshot() }
func (src snapshotSource) AuditDropped() uint64           { return src.s.emitter.Dropped() }
