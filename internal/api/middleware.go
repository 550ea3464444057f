// internal/api/middleware.go
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bloodlink/internal/common/auth"
	apperrors "bloodlink/internal/common/errors"
	"bloodlink/internal/common/logger"
	"bloodlink/internal/common/metrics"
	"bloodlink/internal/offers"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type contextKeyPrincipal struct{}

// PrincipalFrom returns the caller stored by RequireAuth, or nil.
func PrincipalFrom(ctx context.Context) *auth.Principal {
	p, _ := ctx.Value(contextKeyPrincipal{}).(*auth.Principal)
	return p
}

func WithPrincipal(ctx context.Context, p *auth.Principal) context.Context {
	return context.WithValue(ctx, contextKeyPrincipal{}, p)
}

func actorFrom(ctx context.Context) offers.Actor {
	p := PrincipalFrom(ctx)
	if p == nil {
		return offers.Actor{}
	}
	return offers.Actor{UserID: p.UserID, Roles: p.Roles}
}

func RequireAuth(verifier TokenVerifier, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				writeError(w, r, log, apperrors.NewUnauthenticatedError("missing bearer token"))
				return
			}
			p, err := verifier.ValidateToken(r.Context(), token)
			if err != nil {
				writeError(w, r, log, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// Metrics records request counts and latency per route pattern.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

func Recovery(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("panic serving request", map[string]interface{}{
						"panic":     rec,
						"path":      r.URL.Path,
						"requestId": chimiddleware.GetReqID(r.Context()),
					})
					writeJSON(w, http.StatusInternalServerError, errorBody{Code: string(apperrors.ErrCodeInternal), Message: "internal error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
