package transaction

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Brownbull/gmni-boletapp-sub015/internal/batch"
)

// Server handles HTTP requests for batches and transactions
type Server struct {
	service     *Service
	engine      *batch.Engine
	basicAuth   BasicAuth
	credits     CreditConfig
	concurrency int
	mux         *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// CreditConfig is the account's credit standing, checked before a
// batch is allowed to start. One credit covers one image.
type CreditConfig struct {
	Balance int
	Premium bool
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, engine *batch.Engine, basicAuth BasicAuth, credits CreditConfig, concurrency int) *Server {
	return NewServerWithMux(service, engine, basicAuth, credits, concurrency, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, engine *batch.Engine, basicAuth BasicAuth, credits CreditConfig, concurrency int, mux *http.ServeMux) *Server {
	s := &Server{
		service:     service,
		engine:      engine,
		basicAuth:   basicAuth,
		credits:     credits,
		concurrency: concurrency,
		mux:         mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			// Ensure CORS headers are set before error response
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="Boletapp"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
// Routes must be registered from most specific to least specific to avoid conflicts
func (s *Server) registerRoutes() {
	// Batch processing
	s.mux.HandleFunc("POST /api/batches", s.requireAuth(s.handleStartBatch))
	s.mux.HandleFunc("GET /api/batches/{id}", s.requireAuth(s.handleGetBatchRecord))
	s.mux.HandleFunc("GET /api/batches", s.requireAuth(s.handleListBatchRecords))

	// Active session
	s.mux.HandleFunc("GET /api/session", s.requireAuth(s.handleGetSession))
	s.mux.HandleFunc("POST /api/session/cancel", s.requireAuth(s.handleCancelSession))
	s.mux.HandleFunc("POST /api/session/reset", s.requireAuth(s.handleResetSession))
	s.mux.HandleFunc("POST /api/session/retry", s.requireAuth(s.handleRetryItem))

	// Stored transactions (most specific paths first)
	s.mux.HandleFunc("GET /api/transactions/{id}/file", s.requireAuth(s.handleGetTransactionFile))
	s.mux.HandleFunc("GET /api/transactions/{id}", s.requireAuth(s.handleGetTransaction))
	s.mux.HandleFunc("DELETE /api/transactions/{id}", s.requireAuth(s.handleDeleteTransaction))
	s.mux.HandleFunc("GET /api/transactions", s.requireAuth(s.handleListTransactions))
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	// Wrap the mux with CORS middleware to handle all requests including OPTIONS
	return http.ListenAndServe(addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
			s.mux.ServeHTTP(w, r)
		})(w, r)
	}))
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
