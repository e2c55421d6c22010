package gateserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/xiaonanln/hubgate/gate"
	"github.com/xiaonanln/hubgate/runtimecfg"
	"github.com/xiaonanln/hubgate/util/logger"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// DefaultWSPath is where hubs and readers connect
const DefaultWSPath = "/ws"

const shutdownTimeout = 5 * time.Second

// GateServerConfig holds configuration for the gate server
type GateServerConfig struct {
	HTTPListenAddress string // REST API, WebSocket endpoint and metrics (e.g., ":8080")
	GRPCListenAddress string // Optional: gRPC health and reflection (e.g., ":9090")
	WSPath            string // Optional: WebSocket path (default: "/ws")
	Gate              gate.GateConfig
}

// GateServer exposes a gate over WebSocket and HTTP
type GateServer struct {
	config       *GateServerConfig
	logger       *logger.Logger
	gate         *gate.Gate
	runtime      *runtimecfg.Store
	handler      http.Handler
	httpServer   *http.Server
	grpcServer   *grpc.Server
	healthServer *health.Server

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	httpAddr string
	grpcAddr string
}

// NewGateServer creates a new gate server instance. store may be nil.
func NewGateServer(config *GateServerConfig, store *runtimecfg.Store) (*GateServer, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid gate server configuration: %w", err)
	}
	if store == nil {
		store = runtimecfg.NewStore(nil)
	}

	gw, err := gate.NewGate(&config.Gate, store)
	if err != nil {
		return nil, fmt.Errorf("failed to create gate: %w", err)
	}

	s := &GateServer{
		config:  config,
		logger:  logger.NewLogger("GateServer"),
		gate:    gw,
		runtime: store,
	}
	s.handler = s.setupHTTPRoutes()
	return s, nil
}

// validateConfig validates the gate server configuration
func validateConfig(config *GateServerConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if config.HTTPListenAddress == "" {
		return fmt.Errorf("HTTPListenAddress cannot be empty")
	}

	// Set defaults
	if config.WSPath == "" {
		config.WSPath = DefaultWSPath
	}
	if !strings.HasPrefix(config.WSPath, "/") {
		return fmt.Errorf("WSPath must start with /: %q", config.WSPath)
	}
	return nil
}

// Gate returns the underlying gate
func (s *GateServer) Gate() *gate.Gate {
	return s.gate
}

// Handler returns the HTTP handler serving the API and the WebSocket endpoint
func (s *GateServer) Handler() http.Handler {
	return s.handler
}

// HTTPAddr returns the bound HTTP address once the server is listening
func (s *GateServer) HTTPAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpAddr
}

// GRPCAddr returns the bound gRPC address once the server is listening
func (s *GateServer) GRPCAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grpcAddr
}

// Start runs the gate server until ctx is cancelled or Stop is called
func (s *GateServer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return fmt.Errorf("gate server already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()
	defer close(s.done)
	defer cancel()

	s.logger.Infof("Starting gate server on %s", s.config.HTTPListenAddress)

	if err := s.gate.Start(ctx); err != nil {
		return fmt.Errorf("failed to start gate: %w", err)
	}

	httpListener, err := net.Listen("tcp", s.config.HTTPListenAddress)
	if err != nil {
		s.stopGate()
		return fmt.Errorf("failed to listen on %s: %w", s.config.HTTPListenAddress, err)
	}
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var grpcListener net.Listener
	if s.config.GRPCListenAddress != "" {
		grpcListener, err = net.Listen("tcp", s.config.GRPCListenAddress)
		if err != nil {
			httpListener.Close()
			s.stopGate()
			return fmt.Errorf("failed to listen on %s: %w", s.config.GRPCListenAddress, err)
		}
		s.grpcServer = grpc.NewServer()
		s.healthServer = health.NewServer()
		healthpb.RegisterHealthServer(s.grpcServer, s.healthServer)
		reflection.Register(s.grpcServer)
		s.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	}

	s.mu.Lock()
	s.httpAddr = httpListener.Addr().String()
	if grpcListener != nil {
		s.grpcAddr = grpcListener.Addr().String()
	}
	s.mu.Unlock()

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		s.logger.Infof("HTTP gate server listening on %s (ws path %s)", httpListener.Addr(), s.config.WSPath)
		if err := s.httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if grpcListener != nil {
		eg.Go(func() error {
			s.logger.Infof("gRPC health server listening on %s", grpcListener.Addr())
			if err := s.grpcServer.Serve(grpcListener); err != nil {
				return fmt.Errorf("gRPC server error: %w", err)
			}
			return nil
		})
	}

	eg.Go(func() error {
		s.runtime.Watch(egCtx)
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		s.logger.Infof("Gate server context cancelled, initiating shutdown")
		s.shutdown()
		return nil
	})

	return eg.Wait()
}

// Stop gracefully stops the gate server and waits for Start to return
func (s *GateServer) Stop() error {
	s.logger.Infof("Stopping gate server")

	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return s.gate.Stop()
	}

	cancel()
	<-done
	s.logger.Infof("Gate server stopped")
	return nil
}

func (s *GateServer) shutdown() {
	if s.grpcServer != nil {
		s.healthServer.Shutdown()

		done := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(done)
		}()

		select {
		case <-done:
			s.logger.Infof("gRPC server stopped gracefully")
		case <-time.After(shutdownTimeout):
			s.logger.Warnf("gRPC server shutdown timed out, forcing stop")
			s.grpcServer.Stop()
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Errorf("HTTP server shutdown error: %v", err)
	}

	// WebSocket connections are hijacked and outlive Shutdown; closing
	// their proxies makes each write pump send a close frame.
	s.stopGate()
}

func (s *GateServer) stopGate() {
	if err := s.gate.Stop(); err != nil {
		s.logger.Errorf("Error stopping gate: %v", err)
	}
}
