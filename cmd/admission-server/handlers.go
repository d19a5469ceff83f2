/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/acronis/go-admission/httpserver"
	"github.com/acronis/go-admission/httpserver/middleware"
	"github.com/acronis/go-admission/log"
	"github.com/acronis/go-admission/restapi"
	"github.com/acronis/go-admission/service"
)

const maxWorkDuration = time.Minute

type workResponseData struct {
	SleptMs  int64 `json:"sleptMs"`
	QueuedMs int64 `json:"queuedMs,omitempty"`
}

func demoRoutes(router chi.Router) {
	router.Get("/work", handleWork)
}

// handleWork emulates a request that keeps its goroutine busy for the given duration.
func handleWork(rw http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLoggerFromContext(r.Context())

	dur := time.Duration(0)
	if durParam := r.URL.Query().Get("duration"); durParam != "" {
		var err error
		if dur, err = time.ParseDuration(durParam); err != nil || dur < 0 || dur > maxWorkDuration {
			apiErr := restapi.NewError(errorDomain, restapi.ErrCodeBadRequest, "Invalid duration.").
				AddContext("duration", durParam)
			restapi.RespondError(rw, http.StatusBadRequest, apiErr, logger)
			return
		}
	}

	startTime := time.Now()
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-r.Context().Done():
		return
	}

	respData := &workResponseData{SleptMs: time.Since(startTime).Milliseconds()}
	if queueWait, parked := middleware.GetQueueWaitFromContext(r.Context()); parked {
		respData.QueuedMs = queueWait.Milliseconds()
	}
	restapi.RespondJSON(rw, respData, logger)
}

func newQueueStatsWorker(srv *httpserver.HTTPServer, logger log.FieldLogger) service.Worker {
	return service.WorkerFunc(func(_ context.Context) error {
		local, remote := srv.RequestQueue.Len()
		busy := srv.Pool.Busy()
		logger.Info("request queue stats",
			log.Int("queue_local", local),
			log.Int("queue_remote", remote),
			log.Int("busy_workers", busy.Worker),
			log.Int("busy_io", busy.IO),
		)
		return nil
	})
}
