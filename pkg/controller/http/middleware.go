package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"

	"github.com/sprintview/sprintview/pkg/domain/interfaces"
	"github.com/sprintview/sprintview/pkg/domain/model"
	"github.com/sprintview/sprintview/pkg/domain/types"
)

// credentialCookie carries the sealed GitLab token between requests
const credentialCookie = "sv_credential"

type contextKey string

const credentialContextKey contextKey = "sprintview:credential"

// CredentialFrom extracts the unsealed credential placed by RequireCredential
func CredentialFrom(ctx context.Context) (types.Credential, bool) {
	cred, ok := ctx.Value(credentialContextKey).(types.Credential)
	if !ok || cred.IsEmpty() {
		return "", false
	}
	return cred, true
}

func withCredential(ctx context.Context, cred types.Credential) context.Context {
	return context.WithValue(ctx, credentialContextKey, cred)
}

// Middleware provides the credential guard for protected routes
type Middleware struct {
	authUC interfaces.Auth
}

// NewMiddleware creates a new middleware instance
func NewMiddleware(authUC interfaces.Auth) *Middleware {
	return &Middleware{
		authUC: authUC,
	}
}

// RequireCredential unseals the credential cookie and places the plaintext
// token in the request context. An absent cookie and a cookie that fails to
// unseal are both 401, with distinct error bodies; the broken cookie is
// cleared so the client does not retry it forever.
func (m *Middleware) RequireCredential(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(credentialCookie)
		if err != nil || cookie.Value == "" {
			writeError(w, goerr.Wrap(model.ErrNoSession, "credential cookie missing"), http.StatusUnauthorized)
			return
		}

		cred, err := m.authUC.Unseal(cookie.Value)
		if err != nil {
			ctxlog.From(r.Context()).Debug("Credential unseal failed", "error", err)
			clearCookie(w, credentialCookie, true)
			writeError(w, goerr.Wrap(model.ErrInvalidSession, "credential cookie rejected"), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(withCredential(r.Context(), cred)))
	})
}

// LoggingMiddleware creates a chi-compatible logging middleware
func LoggingMiddleware(ctx context.Context) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Embed logger from the initial context into request context
			r = r.WithContext(ctxlog.With(r.Context(), ctxlog.From(ctx)))

			logger := ctxlog.From(r.Context())
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
			)
		})
	}
}
