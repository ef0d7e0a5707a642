package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/therealutkarshpriyadarshi/fwingest/internal/health"
	"github.com/therealutkarshpriyadarshi/fwingest/internal/logging"
)

// Server provides HTTP endpoints for metrics and health checks. Endpoints
// configured on the same address share one listener.
type Server struct {
	servers []*http.Server
	addrs   []string
	logger  *logging.Logger
}

// Config holds server configuration
type Config struct {
	MetricsAddress  string
	MetricsPath     string
	HealthAddress   string
	LivenessPath    string
	ReadinessPath   string
	MetricsRegistry *prometheus.Registry
	HealthChecker   *health.Checker
	Logger          *logging.Logger
}

// New creates a new server. It returns nil when no endpoint is configured.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	var order []string
	muxes := make(map[string]*http.ServeMux)
	muxFor := func(addr string) *http.ServeMux {
		if mux, ok := muxes[addr]; ok {
			return mux
		}
		mux := http.NewServeMux()
		muxes[addr] = mux
		order = append(order, addr)
		return mux
	}

	if cfg.MetricsAddress != "" && cfg.MetricsRegistry != nil {
		metricsPath := cfg.MetricsPath
		if metricsPath == "" {
			metricsPath = "/metrics"
		}

		muxFor(cfg.MetricsAddress).Handle(metricsPath, promhttp.HandlerFor(
			cfg.MetricsRegistry,
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
			},
		))
	}

	if cfg.HealthAddress != "" && cfg.HealthChecker != nil {
		livenessPath := cfg.LivenessPath
		if livenessPath == "" {
			livenessPath = "/health/live"
		}

		readinessPath := cfg.ReadinessPath
		if readinessPath == "" {
			readinessPath = "/health/ready"
		}

		mux := muxFor(cfg.HealthAddress)
		mux.HandleFunc(livenessPath, cfg.HealthChecker.LivenessHandler())
		mux.HandleFunc(readinessPath, cfg.HealthChecker.ReadinessHandler())
		mux.HandleFunc("/health", cfg.HealthChecker.HTTPHandler())
	}

	if len(order) == 0 {
		return nil
	}

	s := &Server{logger: cfg.Logger.WithComponent("server")}
	for _, addr := range order {
		s.servers = append(s.servers, &http.Server{
			Addr:         addr,
			Handler:      muxes[addr],
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		})
	}
	return s
}

// Start binds every listener and serves in the background. A bind failure
// is returned immediately.
func (s *Server) Start() error {
	listeners := make([]net.Listener, 0, len(s.servers))
	for _, srv := range s.servers {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			return fmt.Errorf("listen on %s: %w", srv.Addr, err)
		}
		listeners = append(listeners, ln)
	}

	s.addrs = s.addrs[:0]
	for i, srv := range s.servers {
		ln := listeners[i]
		s.addrs = append(s.addrs, ln.Addr().String())

		s.logger.Info().
			Str("address", ln.Addr().String()).
			Msg("Starting HTTP server")

		go func(srv *http.Server) {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error().Err(err).Str("address", srv.Addr).Msg("HTTP server error")
			}
		}(srv)
	}

	return nil
}

// Addrs returns the bound listener addresses after Start
func (s *Server) Addrs() []string {
	return s.addrs
}

// Stop gracefully shuts down the servers
func (s *Server) Stop(ctx context.Context) error {
	var err error
	for _, srv := range s.servers {
		s.logger.Info().Str("address", srv.Addr).Msg("Shutting down HTTP server")
		if shutdownErr := srv.Shutdown(ctx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Str("address", srv.Addr).Msg("Error shutting down HTTP server")
			if err == nil {
				err = shutdownErr
			}
		}
	}
	return err
}
