/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package profserver provides an HTTP server with pprof endpoints.
// It helps to find out what keeps the goroutines busy when the request queue starts parking requests.
package profserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/acronis/go-admission/httpserver/middleware"
	"github.com/acronis/go-admission/log"
	"github.com/acronis/go-admission/restapi"
	"github.com/acronis/go-admission/service"
	"github.com/acronis/go-admission/threading"
)

// AdmissionStatePath is the path of the endpoint which reports the current saturation and queue depth.
const AdmissionStatePath = "/debug/admission"

// RequestQueueLengther returns the number of parked local and remote requests (usually it's *throttling.RequestQueue).
type RequestQueueLengther interface {
	Len() (local, remote int)
}

// Opts represents options for ProfServer.
type Opts struct {
	// ThreadingServices and RequestQueue are reported by the AdmissionStatePath endpoint.
	// The endpoint is not registered if ThreadingServices is nil.
	ThreadingServices threading.Services
	RequestQueue      RequestQueueLengther
}

// ProfServer represents HTTP server for profiling. pprof is used under the hood.
// It implements service.Unit interface.
type ProfServer struct {
	URL            string
	HTTPServer     *http.Server
	httpServerDone chan struct{}
	Logger         log.FieldLogger
}

var _ service.Unit = (*ProfServer)(nil)

type queueStateData struct {
	Local  int `json:"local"`
	Remote int `json:"remote"`
}

type countsData struct {
	Worker int `json:"worker"`
	IO     int `json:"io"`
}

type admissionStateData struct {
	ActiveThreads    int             `json:"activeThreads"`
	MaxThreads       countsData      `json:"maxThreads"`
	AvailableThreads countsData      `json:"availableThreads"`
	RequestQueue     *queueStateData `json:"requestQueue,omitempty"`
}

// New creates a new HTTP server (pprof) for profiling.
func New(cfg *Config, logger log.FieldLogger) *ProfServer {
	return NewWithOpts(cfg, logger, Opts{})
}

// NewWithOpts is a more configurable version of New.
func NewWithOpts(cfg *Config, logger log.FieldLogger, opts Opts) *ProfServer {
	router := chi.NewRouter()
	router.Use(
		middleware.RequestID(),
		middleware.LoggingWithOpts(logger, middleware.LoggingOpts{RequestStart: true}),
	)
	if opts.ThreadingServices != nil {
		router.Get(AdmissionStatePath, newAdmissionStateHandler(opts.ThreadingServices, opts.RequestQueue))
	}
	router.Mount("/debug", chimiddleware.Profiler())

	httpServer := &http.Server{
		Addr:              cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: time.Second * 5,
	}

	return &ProfServer{
		URL:            "http://" + httpServer.Addr,
		HTTPServer:     httpServer,
		httpServerDone: make(chan struct{}),
		Logger:         logger,
	}
}

func newAdmissionStateHandler(services threading.Services, queue RequestQueueLengther) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		maxThreads, available := services.MaxThreads(), services.AvailableThreads()
		respData := &admissionStateData{
			ActiveThreads:    threading.ActiveThreads(services),
			MaxThreads:       countsData{Worker: maxThreads.Worker, IO: maxThreads.IO},
			AvailableThreads: countsData{Worker: available.Worker, IO: available.IO},
		}
		if queue != nil {
			local, remote := queue.Len()
			respData.RequestQueue = &queueStateData{Local: local, Remote: remote}
		}
		restapi.RespondJSON(rw, respData, middleware.GetLoggerFromContext(r.Context()))
	}
}

// Start starts profiling HTTP server in a blocking way.
// If a fatal error occurs, it's sent into passed fatalError channel.
func (s *ProfServer) Start(fatalError chan<- error) {
	defer close(s.httpServerDone)

	logger := s.Logger.With(log.String("address", s.HTTPServer.Addr))
	logger.Info("starting profiling HTTP server...")
	err := s.HTTPServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		logger.Info("profiling HTTP server closed")
		return
	}
	logger.Error("profiling HTTP server error", log.Error(err))
	fatalError <- err
}

// Stop stops profiling HTTP server. Profiling requests are not worth waiting for, so it's never graceful.
func (s *ProfServer) Stop(_ bool) error {
	s.Logger.Info("closing profiling HTTP server...")
	if err := s.HTTPServer.Close(); err != nil {
		s.Logger.Error("profiling HTTP server closing error", log.Error(err))
		return err
	}
	<-s.httpServerDone
	return nil
}
