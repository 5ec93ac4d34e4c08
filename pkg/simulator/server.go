package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/bart-jansen/aoai-simulated-api/pkg/config"
	"github.com/bart-jansen/aoai-simulated-api/pkg/logging"
)

// Server runs the simulator's HTTP endpoint.
type Server struct {
	cfg        *config.Config
	log        *slog.Logger
	handler    *Handler
	httpServer *http.Server
	listener   net.Listener
	mu         sync.RWMutex
	running    bool
}

// ServerOption is a functional option for configuring a Server.
type ServerOption func(*Server)

// WithLogger sets the operational logger for the server and its handler.
func WithLogger(log *slog.Logger) ServerOption {
	return func(s *Server) {
		if log != nil {
			s.log = log
			s.handler.SetLogger(log.With("component", "pipeline"))
		}
	}
}

// WithTracer sets the tracer for per-request spans.
func WithTracer(tracer trace.Tracer) ServerOption {
	return func(s *Server) {
		s.handler.SetTracer(tracer)
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *Metrics) ServerOption {
	return func(s *Server) {
		s.handler.SetMetrics(m)
	}
}

// WithGenerators sets the generator chain used in generate mode.
func WithGenerators(generators ...Generator) ServerOption {
	return func(s *Server) {
		s.handler.SetGenerators(generators)
	}
}

// WithRecorder sets the record/replay collaborator.
func WithRecorder(recorder RecordReplay) ServerOption {
	return func(s *Server) {
		s.handler.SetRecorder(recorder)
	}
}

// WithLimiter registers a rate limiter under a resource key.
func WithLimiter(key string, l Limiter) ServerOption {
	return func(s *Server) {
		s.handler.RegisterLimiter(key, l)
	}
}

// WithValidator sets the optional strict request validator.
func WithValidator(v RequestValidator) ServerOption {
	return func(s *Server) {
		s.handler.SetValidator(v)
	}
}

// NewServer creates a Server with the given configuration.
func NewServer(cfg *config.Config, opts ...ServerOption) *Server {
	s := &Server{
		cfg:     cfg,
		log:     logging.Nop(),
		handler: NewHandler(cfg),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the pipeline handler, mainly for tests.
func (s *Server) Handler() *Handler {
	return s.handler
}

// Start binds the listener and begins serving in the background.
// Port 0 asks the OS for a free port; see HTTPPort for the result.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server is already running")
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeout) * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("HTTP server error", "error", err)
		}
	}()

	s.running = true

	s.log.Info("starting simulator",
		"mode", s.cfg.Mode,
		"port", s.httpPort(),
		"api_key", s.cfg.APIKey,
	)
	switch s.cfg.Mode {
	case config.ModeRecord, config.ModeReplay:
		s.log.Info("recording configuration",
			"dir", s.cfg.Recording.Dir,
			"autosave", s.cfg.Recording.AutosaveEnabled(),
		)
	case config.ModeGenerate:
		deployments := make([]string, 0, len(s.cfg.OpenAIDeployments))
		for name := range s.cfg.OpenAIDeployments {
			deployments = append(deployments, name)
		}
		s.log.Info("generate configuration",
			"deployments", deployments,
			"doc_intelligence_rps", s.cfg.DocIntelligenceRPS,
		)
	}

	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.running = false
	return err
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// HTTPPort returns the actual listen port, resolving port-0 auto-assign.
func (s *Server) HTTPPort() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.httpPort()
}

func (s *Server) httpPort() int {
	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return s.cfg.Port
}
