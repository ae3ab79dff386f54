package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"

	"github.com/sprintview/sprintview/pkg/domain/interfaces"
	"github.com/sprintview/sprintview/pkg/service/gitlab"
)

// Server represents the HTTP server
type Server struct {
	*http.Server
	router chi.Router
}

// NewServer creates a new HTTP server with all routes wired
func NewServer(
	addr string,
	authUC interfaces.Auth,
	analyticsUC interfaces.Analytics,
	client *gitlab.Client,
) *Server {
	router := chi.NewRouter()
	guard := NewMiddleware(authUC)

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggingMiddleware(context.Background()))
	router.Use(middleware.Recoverer)

	authHandler := NewAuthHandler(authUC)
	gitlabHandler := NewGitLabHandler(client)
	analysisHandler := NewAnalysisHandler(analyticsUC, client)

	router.Get("/health", handleHealth)

	router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authHandler.HandleLogin)
			r.Post("/logout", authHandler.HandleLogout)
		})

		r.Route("/user", func(r chi.Router) {
			r.Use(guard.RequireCredential)
			r.Get("/me", authHandler.HandleUserMe)
		})

		r.Route("/gitlab", func(r chi.Router) {
			r.Use(guard.RequireCredential)
			r.Get("/groups", gitlabHandler.HandleGroups)
			r.Get("/projects", gitlabHandler.HandleProjects)
		})

		r.Route("/analysis", func(r chi.Router) {
			r.Get("/target", analysisHandler.HandleGetTarget)
			r.Put("/target", analysisHandler.HandlePutTarget)
			r.Delete("/target", analysisHandler.HandleDeleteTarget)

			r.Group(func(r chi.Router) {
				r.Use(guard.RequireCredential)
				r.Get("/overview", analysisHandler.HandleOverview)
				r.Route("/groups/{group}", func(r chi.Router) {
					r.Get("/iterations", analysisHandler.HandleIterations)
					r.Get("/iterations/{iterationID}", analysisHandler.HandleIterationDetail)
					r.Get("/iterations/{iterationID}/actors/{actorID}", analysisHandler.HandleIterationActor)
				})
			})
		})
	})

	return &Server{
		Server: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 15 * time.Second,
		},
		router: router,
	}
}

// Router exposes the route tree for tests
func (s *Server) Router() chi.Router {
	return s.router
}

// handleHealth handles health check requests
func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "sprintview",
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		ctxlog.From(context.Background()).Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error, status int) {
	var message string
	if goErr := goerr.Unwrap(err); goErr != nil {
		message = goErr.Error()
	} else {
		message = err.Error()
	}

	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

func clearCookie(w http.ResponseWriter, name string, httpOnly bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: httpOnly,
		MaxAge:   -1,
	})
}
