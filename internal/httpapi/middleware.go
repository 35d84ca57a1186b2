package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/coverbridge/auth-service/internal/audit"
	"github.com/coverbridge/auth-service/internal/auth"
	"github.com/coverbridge/auth-service/internal/token"
)

type claimsContextKey struct{}

// claimsFrom returns the verified access claims requireAuth stored.
func claimsFrom(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*token.Claims)
	return claims, ok
}

// captureOrigin records where the request came from so every audit record
// born below carries it. RealIP runs first, so RemoteAddr is already the
// client address when proxy headers are trustworthy.
func (s *Server) captureOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, ok := strings.Cut(ip, ":"); ok && host != "" {
			ip = host
		}
		ctx := auth.WithOrigin(r.Context(), audit.Origin{
			IP:        ip,
			UserAgent: r.UserAgent(),
			RequestID: chimw.GetReqID(r.Context()),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// logRequests writes one structured line per request. Bodies and tokens
// never appear in logs.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}

// requireAuth verifies the bearer token and stores its claims for the
// handler. Every failure collapses to one 401 so the response does not
// reveal why a token was refused.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid_token", "missing or invalid bearer token")
			return
		}
		claims, err := s.tokens.ParseAccess(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token", "missing or invalid bearer token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePermission gates a route on one permission string from the access
// token. The service re-checks the same permission, so a stale token is the
// worst this guard can let through.
func (s *Server) requirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := claimsFrom(r.Context())
			if !ok || !actorFrom(claims).Can(permission) {
				writeError(w, http.StatusForbidden, "permission_denied", "permission denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}
	raw := value[len(bearer):]
	if raw == "" {
		return "", false
	}
	return raw, true
}

func actorFrom(claims *token.Claims) auth.Actor {
	return auth.Actor{
		ID:          claims.Subject,
		Role:        claims.Role,
		Permissions: claims.Permissions,
	}
}
