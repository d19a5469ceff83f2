/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/acronis/go-admission/httpserver/middleware"
	"github.com/acronis/go-admission/log"
	"github.com/acronis/go-admission/service"
	"github.com/acronis/go-admission/threading"
	"github.com/acronis/go-admission/throttling"
)

const (
	networkTCP  = "tcp"
	networkUnix = "unix"
)

// systemEndpoints is a list of endpoints which are not involved in metrics collecting and throttling.
var systemEndpoints = []string{"/metrics", "/healthz"}

// APIVersion is a type alias for API version.
type APIVersion = int

// APIRoute is a type alias for single API route.
type APIRoute = func(router chi.Router)

// Opts represents options for creating HTTPServer.
type Opts struct {
	// ServiceNameInURL is a prefix for API routes (e.g., "/api/service_name/v1").
	ServiceNameInURL string
	// APIRoutes is a map of API versions to their route configuration functions.
	APIRoutes map[APIVersion]APIRoute
	// RootMiddlewares is a list of middlewares to be applied to the root router.
	RootMiddlewares []func(http.Handler) http.Handler
	// ErrorDomain is used for error response formatting.
	ErrorDomain string
	// HealthCheck is a function that performs health check logic.
	HealthCheck HealthCheck
	// MetricsHandler is a custom handler for the /metrics endpoint (e.g., Prometheus handler).
	MetricsHandler http.Handler
	// MetricsNamespace is a Prometheus namespace for HTTP request and request queue metrics.
	MetricsNamespace string
	// GetRoutePattern is used for the route_pattern label of HTTP request metrics.
	GetRoutePattern middleware.RoutePatternGetterFunc
	// Throttling contains options for the throttling middleware. WorkerTracker is always the server's pool.
	Throttling middleware.ThrottlingOpts
	// Listener is a pre-configured network listener to use instead of creating a new one.
	Listener net.Listener
}

// HTTPServer represents a wrapper around http.Server with additional fields and methods.
// All API routes are served through the request queue (if throttling is enabled in the configuration).
// It also implements service.Unit and service.MetricsRegisterer interfaces.
type HTTPServer struct {
	URL             string
	HTTPServer      *http.Server
	UnixSocketPath  string
	TLS             TLSConfig
	HTTPRouter      chi.Router
	Logger          log.FieldLogger
	ShutdownTimeout time.Duration

	// Pool accounts goroutines serving API requests and runs queue drains.
	Pool *threading.Pool
	// RequestQueue is nil when throttling is disabled.
	RequestQueue *throttling.RequestQueue

	listener          net.Listener
	port              atomic.Int32
	httpServerDone    atomic.Value
	httpReqMetrics    *middleware.HTTPRequestMetricsCollector
	throttlingMetrics *throttling.MetricsCollector
}

var _ service.Unit = (*HTTPServer)(nil)
var _ service.MetricsRegisterer = (*HTTPServer)(nil)

// New creates a new HTTPServer with predefined logging, metrics collecting,
// recovering after panics, health-checking and request throttling functionality.
func New(cfg *Config, logger log.FieldLogger, opts Opts) (*HTTPServer, error) { //nolint // hugeParam: opts is heavy, it's ok in this case.
	poolOpts := cfg.Throttling.PoolOpts()
	poolOpts.Logger = logger
	pool, err := threading.NewPool(poolOpts)
	if err != nil {
		return nil, fmt.Errorf("create threading pool: %w", err)
	}

	routerOpts := RouterOpts{
		ServiceNameInURL: opts.ServiceNameInURL,
		APIRoutes:        opts.APIRoutes,
		RootMiddlewares:  opts.RootMiddlewares,
		ErrorDomain:      opts.ErrorDomain,
		HealthCheck:      opts.HealthCheck,
		MetricsHandler:   opts.MetricsHandler,
	}

	var queue *throttling.RequestQueue
	var throttlingMetrics *throttling.MetricsCollector
	if cfg.Throttling.Enabled {
		throttlingMetrics = throttling.NewMetricsCollector(opts.MetricsNamespace)
		queueOpts := cfg.Throttling.Options(pool)
		queueOpts.MetricsCollector = throttlingMetrics
		if queue, err = throttling.NewRequestQueue(queueOpts, logger); err != nil {
			return nil, fmt.Errorf("create request queue: %w", err)
		}
		throttlingOpts := opts.Throttling
		throttlingOpts.WorkerTracker = pool
		routerOpts.APIMiddlewares = append(routerOpts.APIMiddlewares,
			middleware.ThrottlingWithOpts(queue, opts.ErrorDomain, throttlingOpts))
		routerOpts.RequestQueue = queue
	} else {
		routerOpts.APIMiddlewares = append(routerOpts.APIMiddlewares, trackWorkers(pool))
	}

	httpReqMetrics := middleware.NewHTTPRequestMetricsCollector(opts.MetricsNamespace)
	router := chi.NewRouter()
	applyDefaultMiddlewaresToRouter(router, cfg, logger, opts, httpReqMetrics)
	configureRouter(router, logger, routerOpts)

	httpServer := &http.Server{
		Addr:              cfg.Address,
		WriteTimeout:      time.Duration(cfg.Timeouts.Write),
		ReadTimeout:       time.Duration(cfg.Timeouts.Read),
		ReadHeaderTimeout: time.Duration(cfg.Timeouts.ReadHeader),
		IdleTimeout:       time.Duration(cfg.Timeouts.Idle),
		Handler:           router,
	}

	return &HTTPServer{
		URL:               buildServerURL(cfg),
		HTTPServer:        httpServer,
		UnixSocketPath:    cfg.UnixSocketPath,
		TLS:               cfg.TLS,
		HTTPRouter:        router,
		Logger:            logger,
		ShutdownTimeout:   time.Duration(cfg.Timeouts.Shutdown),
		Pool:              pool,
		RequestQueue:      queue,
		listener:          opts.Listener,
		httpReqMetrics:    httpReqMetrics,
		throttlingMetrics: throttlingMetrics,
	}, nil
}

func buildServerURL(cfg *Config) string {
	serverURL := cfg.Address
	if cfg.UnixSocketPath != "" {
		serverURL = "localhost" // Any domain can be used here. It will not be used in unix-socket case.
	}
	if cfg.TLS.Enabled {
		return "https://" + serverURL
	}
	return "http://" + serverURL
}

// trackWorkers keeps the pool accounting up to date when requests are not throttled.
func trackWorkers(pool *threading.Pool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			release := pool.TrackWorker()
			defer release()
			next.ServeHTTP(rw, r)
		})
	}
}

// Start starts application HTTP server in a blocking way.
// The request queue (if any) is started before the server begins accepting connections.
// It's supposed that this method will be called in a separate goroutine.
// If a fatal error occurs, it will be sent to the fatalError channel.
func (s *HTTPServer) Start(fatalError chan<- error) {
	done := make(chan struct{})
	defer close(done)
	s.httpServerDone.Store(done)

	logger := s.Logger.With(
		log.String("address", s.HTTPServer.Addr),
		log.Duration("write_timeout", s.HTTPServer.WriteTimeout),
		log.Duration("read_timeout", s.HTTPServer.ReadTimeout),
		log.Duration("read_header_timeout", s.HTTPServer.ReadHeaderTimeout),
		log.Duration("idle_timeout", s.HTTPServer.IdleTimeout),
		log.Duration("shutdown_timeout", s.ShutdownTimeout),
		log.Bool("throttling_enabled", s.RequestQueue != nil),
	)
	if s.UnixSocketPath != "" {
		logger = logger.With(log.String("unix_socket_path", s.UnixSocketPath))
		if err := os.Remove(s.UnixSocketPath); err != nil && !os.IsNotExist(err) {
			fatalError <- fmt.Errorf("remove unix socket file %q: %w", s.UnixSocketPath, err)
			return
		}
	}

	logger.Info("starting application HTTP server...")

	var err error
	if s.listener == nil {
		network, addr := s.NetworkAndAddr()
		if s.listener, err = net.Listen(network, addr); err != nil {
			logger.Error("application HTTP server error", log.Error(err))
			fatalError <- err
			return
		}
	}

	if s.listener.Addr().Network() == networkTCP {
		var portStr string
		if _, portStr, err = net.SplitHostPort(s.listener.Addr().String()); err != nil {
			logger.Error("unexpected format of TCP listener address: unable to split host and port", log.Error(err))
			fatalError <- err
			return
		}
		var port int64
		if port, err = strconv.ParseInt(portStr, 10, 32); err != nil {
			logger.Error("unexpected format of TCP listener address: no numeric port", log.Error(err))
			fatalError <- err
			return
		}
		s.port.Store(int32(port))
	}

	if s.RequestQueue != nil {
		s.RequestQueue.Start()
	}

	if s.TLS.Enabled {
		err = s.HTTPServer.ServeTLS(s.listener, s.TLS.Certificate, s.TLS.Key)
	} else {
		err = s.HTTPServer.Serve(s.listener)
	}

	if err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("application HTTP server closed")
			return
		}
		logger.Error("application HTTP server error", log.Error(err))
		fatalError <- err
		return
	}
}

// Stop stops application HTTP server (gracefully or not) and the request queue.
// On graceful stop, parked requests keep being drained while the server is shutting down,
// and the ones left after the shutdown timeout are rejected.
// On non-graceful stop, parked requests are rejected before the server is closed.
func (s *HTTPServer) Stop(gracefully bool) error {
	if !gracefully {
		s.stopRequestQueue()
		s.Logger.Info("closing application HTTP server...")
		if err := s.HTTPServer.Close(); err != nil {
			s.Logger.Error("application HTTP server closing error", log.Error(err))
			return err
		}
		s.waitServeDone()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()

	var resErr error
	s.Logger.Info("shutting down application HTTP server...", log.Duration("timeout", s.ShutdownTimeout))
	if err := s.HTTPServer.Shutdown(ctx); err != nil {
		s.Logger.Error("application HTTP server shutting down error", log.Error(err))
		resErr = multierr.Append(resErr, fmt.Errorf("shutdown http server: %w", err))
	} else {
		s.Logger.Info("application HTTP server shut down")
	}

	s.stopRequestQueue()
	s.Pool.Wait()
	s.waitServeDone()

	return resErr
}

func (s *HTTPServer) stopRequestQueue() {
	if s.RequestQueue != nil {
		s.RequestQueue.Stop()
	}
}

func (s *HTTPServer) waitServeDone() {
	if done, ok := s.httpServerDone.Load().(chan struct{}); ok && done != nil {
		<-done // Wait for the listener to be closed.
	}
}

// MustRegisterMetrics registers metrics in Prometheus client and panics if any error occurs.
func (s *HTTPServer) MustRegisterMetrics() {
	s.httpReqMetrics.MustRegister()
	if s.throttlingMetrics != nil {
		s.throttlingMetrics.MustRegister()
	}
}

// UnregisterMetrics unregisters metrics in Prometheus client.
func (s *HTTPServer) UnregisterMetrics() {
	s.httpReqMetrics.Unregister()
	if s.throttlingMetrics != nil {
		s.throttlingMetrics.Unregister()
	}
}

// NetworkAndAddr returns network type ("tcp" or "unix") and address (path to unix socket in case of "unix" network).
func (s *HTTPServer) NetworkAndAddr() (network string, addr string) {
	if s.UnixSocketPath != "" {
		return networkUnix, s.UnixSocketPath
	}
	return networkTCP, s.HTTPServer.Addr
}

// GetPort returns the TCP port the server is listening on (0 before Start or for unix sockets).
func (s *HTTPServer) GetPort() int {
	return int(s.port.Load())
}
