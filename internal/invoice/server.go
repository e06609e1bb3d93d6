package invoice

import (
	"log/slog"
	"net/http"
)

// Server handles HTTP requests for invoice extraction
type Server struct {
	service *Service
	auth    Auth
	mux     *http.ServeMux
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, auth Auth) *Server {
	return NewServerWithMux(service, auth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, auth Auth, mux *http.ServeMux) *Server {
	s := &Server{
		service: service,
		auth:    auth,
		mux:     mux,
	}
	s.registerRoutes()
	return s
}

// corsMiddleware adds CORS headers to responses and answers preflight requests
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth resolves the actor and stores it in the request context
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := s.auth.authenticate(r)
		if err != nil {
			slog.Debug("Rejected request", "path", r.URL.Path, "error", err)
			if len(s.auth.JWTSecret) > 0 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="Invoice Scanner"`)
			} else {
				w.Header().Set("WWW-Authenticate", `Basic realm="Invoice Scanner"`)
			}
			corsError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(WithActor(r.Context(), actor)))
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/v1/process-invoice", s.requireAuth(s.handleProcessInvoice))
	s.mux.HandleFunc("GET /api/v1/audit-logs", s.requireAuth(s.handleAuditLogs))
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

// Handler returns the mux wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.mux)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}
