// Package server hosts the watch daemon's gRPC health service and its
// Prometheus HTTP endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/weldingest/internal/metrics"
)

// ServiceName is the health service name reported next to the empty one.
const ServiceName = "weldingest"

const (
	DefaultHealthInterval = 15 * time.Second
	DefaultHealthTimeout  = 3 * time.Second
)

// HealthChecker reports whether the record store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context, timeout time.Duration) error
}

// Config selects the listen addresses. An empty address disables that listener.
type Config struct {
	GRPCAddr       string
	MetricsAddr    string
	HealthInterval time.Duration
	HealthTimeout  time.Duration
}

type Server struct {
	cfg     Config
	store   HealthChecker
	metrics *metrics.Metrics
	logger  *slog.Logger

	grpc   *grpc.Server
	health *health.Server
	http   *http.Server

	mu        sync.Mutex
	grpcAddr  net.Addr
	httpAddr  net.Addr
	stopCheck context.CancelFunc
	done      chan struct{}
}

func New(cfg Config, store HealthChecker, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = DefaultHealthTimeout
	}
	if m == nil {
		m = metrics.New()
	}
	s := &Server{
		cfg:     cfg,
		store:   store,
		metrics: m,
		logger:  logger,
		health:  health.NewServer(),
		done:    make(chan struct{}),
	}

	s.grpc = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)
	// Reflection for grpcurl
	reflection.Register(s.grpc)

	s.http = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router serves /metrics and /healthz.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware())

	r.Handle("/metrics", s.metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := s.checkStore(r.Context()); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}

// Start binds the configured listeners and serves in the background until
// Shutdown. The store is probed once before Start returns.
func (s *Server) Start(ctx context.Context) error {
	var grpcLis, httpLis net.Listener
	var err error
	if s.cfg.GRPCAddr != "" {
		if grpcLis, err = net.Listen("tcp", s.cfg.GRPCAddr); err != nil {
			return fmt.Errorf("grpc listen %s: %w", s.cfg.GRPCAddr, err)
		}
	}
	if s.cfg.MetricsAddr != "" {
		if httpLis, err = net.Listen("tcp", s.cfg.MetricsAddr); err != nil {
			if grpcLis != nil {
				_ = grpcLis.Close()
			}
			return fmt.Errorf("metrics listen %s: %w", s.cfg.MetricsAddr, err)
		}
	}

	s.refreshHealth(ctx)
	checkCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.mu.Lock()
	s.stopCheck = cancel
	if grpcLis != nil {
		s.grpcAddr = grpcLis.Addr()
	}
	if httpLis != nil {
		s.httpAddr = httpLis.Addr()
	}
	s.mu.Unlock()

	go s.healthLoop(checkCtx)

	if grpcLis != nil {
		s.logger.Info("grpc serving", "addr", grpcLis.Addr().String())
		go func() {
			if err := s.grpc.Serve(grpcLis); err != nil {
				s.logger.Error("grpc serve", "error", err)
			}
		}()
	}
	if httpLis != nil {
		s.logger.Info("metrics serving", "addr", httpLis.Addr().String())
		go func() {
			if err := s.http.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("metrics serve", "error", err)
			}
		}()
	}
	return nil
}

// GRPCAddr returns the bound gRPC address, nil when disabled or not started.
func (s *Server) GRPCAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grpcAddr
}

// MetricsAddr returns the bound HTTP address, nil when disabled or not started.
func (s *Server) MetricsAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpAddr
}

// Shutdown marks the service NOT_SERVING and stops both listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.stopCheck
	s.stopCheck = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-s.done

	s.health.Shutdown()
	s.logger.Info("shutting down...")

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpc.Stop()
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) healthLoop(ctx context.Context) {
	defer close(s.done)
	t := time.NewTicker(s.cfg.HealthInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.refreshHealth(ctx)
		}
	}
}

func (s *Server) refreshHealth(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if err := s.checkStore(ctx); err != nil {
		s.logger.Warn("store health failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

func (s *Server) checkStore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	return s.store.HealthCheck(ctx, s.cfg.HealthTimeout)
}
