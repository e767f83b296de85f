package http

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Sentinel-Gate/querygate/internal/domain/auth"
	"github.com/Sentinel-Gate/querygate/internal/domain/ratelimit"
)

// Server is the inbound HTTP adapter for the query gateway.
type Server struct {
	api            *APIHandler
	server         *http.Server
	addr           string
	allowedOrigins []string
	certFile       string
	keyFile        string
	logger         *slog.Logger
	metrics        *Metrics
	gatherer       prometheus.Gatherer
	healthChecker  *HealthChecker
	authenticator  Authenticator
	devIdentity    *auth.Identity
	limiter        ratelimit.Limiter
	rateLimit      ratelimit.Config
	readTimeout    time.Duration
	writeTimeout   time.Duration
	listening      chan net.Addr
}

// Option is a functional option for configuring Server.
type Option func(*Server)

// WithAddr sets the listen address. Default is "127.0.0.1:8080" (localhost only).
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithTLS enables TLS with the provided certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.certFile = certFile
		s.keyFile = keyFile
	}
}

// WithAllowedOrigins sets the allowed origins for DNS rebinding protection.
// If empty, all requests with an Origin header are blocked.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.allowedOrigins = origins }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics enables request metrics and serves gatherer on /metrics.
func WithMetrics(m *Metrics, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = gatherer
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(s *Server) { s.healthChecker = hc }
}

// WithAuthenticator sets the API key authenticator.
func WithAuthenticator(a Authenticator) Option {
	return func(s *Server) { s.authenticator = a }
}

// WithDevIdentity lets requests without an API key run as id.
func WithDevIdentity(id *auth.Identity) Option {
	return func(s *Server) { s.devIdentity = id }
}

// WithRateLimit enables per-identity rate limiting.
func WithRateLimit(l ratelimit.Limiter, cfg ratelimit.Config) Option {
	return func(s *Server) {
		s.limiter = l
		s.rateLimit = cfg
	}
}

// WithTimeouts sets the server read and write timeouts.
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.writeTimeout = write
	}
}

// NewServer creates the HTTP adapter serving api.
func NewServer(api *APIHandler, opts ...Option) *Server {
	s := &Server{
		api:            api,
		addr:           "127.0.0.1:8080",
		allowedOrigins: []string{},
		logger:         slog.Default(),
		readTimeout:    30 * time.Second,
		writeTimeout:   60 * time.Second,
		listening:      make(chan net.Addr, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the full route tree with middleware.
func (s *Server) Handler() http.Handler {
	// Middleware order (innermost first): rate limit runs after identity so
	// the limit is per identity.
	apiMux := http.NewServeMux()
	s.api.Register(apiMux)
	var api http.Handler = apiMux
	if s.limiter != nil {
		api = RateLimitMiddleware(s.limiter, s.rateLimit, s.metrics)(api)
	}
	api = IdentityMiddleware(s.authenticator, s.devIdentity)(api)
	api = DNSRebindingProtection(s.allowedOrigins)(api)
	api = RealIPMiddleware(api)
	api = RequestIDMiddleware(s.logger)(api)

	mux := http.NewServeMux()
	mux.Handle("/v1/", api)
	if s.healthChecker != nil {
		mux.Handle("GET /health", s.healthChecker.Handler())
	} else {
		mux.Handle("GET /health", NewHealthChecker(nil, nil, nil, nil, "").Handler())
	}
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	var handler http.Handler = mux
	if s.metrics != nil {
		handler = MetricsMiddleware(s.metrics)(handler)
	}
	return handler
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	tlsEnabled := s.certFile != "" && s.keyFile != ""
	if tlsEnabled {
		s.server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listening <- ln.Addr()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tlsEnabled {
			s.logger.Info("starting HTTPS server", "addr", ln.Addr().String())
			err = s.server.ServeTLS(ln, s.certFile, s.keyFile)
		} else {
			s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

// Addr blocks until Start is listening and returns the bound address.
func (s *Server) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case addr := <-s.listening:
		s.listening <- addr
		return addr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}
	s.logger.Info("HTTP server shutdown complete")
	return nil
}
