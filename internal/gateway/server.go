package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"coursebot/internal/domain"
	"coursebot/internal/rag"
)

// ErrInvalidPort is returned when gateway port is not in 0..65535.
var ErrInvalidPort = errors.New("gateway port must be 0-65535")

// QueryService is the question-answering facade the HTTP and WebSocket
// handlers call. rag.System implements it.
type QueryService interface {
	Query(ctx context.Context, query, sessionID string) (*rag.Answer, error)
	CourseAnalytics(ctx context.Context) (*rag.CourseAnalytics, error)
}

// Server serves the course API, optionally behind Bearer token or JWT auth.
type Server struct {
	cfg         *domain.GatewayConfig
	server      *http.Server
	logger      *slog.Logger
	addr        string
	addrMu      sync.RWMutex
	listenErr   error
	listenErrMu sync.Mutex
}

// ServerOption configures a Server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	jwtSecret []byte
}

// WithJWTSecret makes the gateway accept HS256 JWTs signed with secret in
// addition to the static auth token. An empty secret is ignored.
func WithJWTSecret(secret []byte) ServerOption {
	return func(o *serverOptions) {
		if len(secret) > 0 {
			o.jwtSecret = secret
		}
	}
}

// NewServer builds the gateway. Port 0 picks a random port.
func NewServer(cfg *domain.GatewayConfig, svc QueryService, logger *slog.Logger, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		cfg = &domain.GatewayConfig{Port: 8000}
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, ErrInvalidPort
	}
	if svc == nil {
		return nil, errors.New("gateway: query service must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	var so serverOptions
	for _, opt := range opts {
		opt(&so)
	}
	api := &api{svc: svc, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", api.handleRoot)
	mux.HandleFunc("POST /api/query", api.handleQuery)
	mux.HandleFunc("GET /api/courses", api.handleCourses)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) { HandleWS(w, r, svc, logger) })

	handler := RequestLogger(logger)(BearerAuth(cfg.AuthToken, so.jwtSecret)(mux))
	return &Server{
		cfg:    cfg,
		logger: logger,
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Addr returns the bound address after Run has started. Empty before Run.
func (s *Server) Addr() string {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.addr
}

// ListenErr returns the error from the initial Listen in Run, if any.
func (s *Server) ListenErr() error {
	s.listenErrMu.Lock()
	defer s.listenErrMu.Unlock()
	return s.listenErr
}

// Handler returns the full handler chain. For testing without binding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// netListen is the function used to listen; tests may replace it to force Listen errors.
var netListen = func(network, address string) (net.Listener, error) {
	return net.Listen(network, address)
}

// Run listens on the configured port and serves until ctx is done, then shuts
// down gracefully. Returns nil after a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := netListen("tcp", ":"+strconv.Itoa(s.cfg.Port))
	if err != nil {
		s.listenErrMu.Lock()
		s.listenErr = err
		s.listenErrMu.Unlock()
		return err
	}
	s.addrMu.Lock()
	s.addr = ln.Addr().String()
	s.addrMu.Unlock()
	s.logger.Info("gateway listening", "addr", s.Addr())

	done := make(chan error, 1)
	go func() { done <- s.server.Serve(ln) }()

	select {
	case err := <-done:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-done
	s.logger.Info("gateway stopped")
	return nil
}
