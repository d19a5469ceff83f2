/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/acronis/go-admission/log"
	"github.com/acronis/go-admission/retry"
)

var errServerTooBusy = errors.New("server is too busy")

type loadOpts struct {
	URL             string
	Requests        int
	Concurrency     int
	MaxRetries      int
	RPS             int
	InitialInterval time.Duration
	Timeout         time.Duration
}

type loadStats struct {
	Succeeded atomic.Int64
	Rejected  atomic.Int64
	Failed    atomic.Int64
	Retries   atomic.Int64
}

func newLoadCommand() *cobra.Command {
	opts := loadOpts{}
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Send concurrent requests to the server and retry the ones rejected as too busy",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Requests <= 0 || opts.Concurrency <= 0 {
				return fmt.Errorf("requests and concurrency should be positive")
			}
			logger, loggerClose := log.NewLogger(&log.Config{Level: log.LevelInfo, Format: log.FormatText, Output: log.OutputStderr})
			defer loggerClose()

			startTime := time.Now()
			stats := runLoad(cmd.Context(), &http.Client{Timeout: opts.Timeout}, opts)
			logger.Info("load is finished",
				log.Int64("succeeded", stats.Succeeded.Load()),
				log.Int64("rejected", stats.Rejected.Load()),
				log.Int64("failed", stats.Failed.Load()),
				log.Int64("retries", stats.Retries.Load()),
				log.Duration("elapsed", time.Since(startTime)),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.URL, "url", "http://127.0.0.1:8080/api/demo/v1/work?duration=100ms", "URL to request")
	cmd.Flags().IntVarP(&opts.Requests, "requests", "n", 100, "total number of requests")
	cmd.Flags().IntVarP(&opts.Concurrency, "concurrency", "j", 10, "number of concurrent requests")
	cmd.Flags().IntVar(&opts.RPS, "rps", 0, "max requests per second including retries, 0 means no limit")
	cmd.Flags().IntVar(&opts.MaxRetries, "max-retries", 3, "max retries of a request rejected as too busy")
	cmd.Flags().DurationVar(&opts.InitialInterval, "retry-interval", time.Millisecond*200, "initial retry interval")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", time.Minute, "timeout of a single request")
	return cmd
}

func runLoad(ctx context.Context, client *http.Client, opts loadOpts) *loadStats {
	stats := &loadStats{}
	policy := retry.NewExponentialBackoffPolicy(opts.InitialInterval, opts.MaxRetries)
	isRetryable := func(err error) bool { return errors.Is(err, errServerTooBusy) }
	notify := func(error, time.Duration) { stats.Retries.Inc() }
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), 1)
	}

	jobs := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				err := retry.DoWithRetry(ctx, policy, isRetryable, notify, func(ctx context.Context) error {
					if err := limiter.Wait(ctx); err != nil {
						return err
					}
					return doLoadRequest(ctx, client, opts.URL)
				})
				switch {
				case err == nil:
					stats.Succeeded.Inc()
				case errors.Is(err, errServerTooBusy):
					stats.Rejected.Inc()
				default:
					stats.Failed.Inc()
				}
			}
		}()
	}
	for i := 0; i < opts.Requests; i++ {
		jobs <- struct{}{}
	}
	close(jobs)
	wg.Wait()
	return stats
}

func doLoadRequest(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return errServerTooBusy
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("unexpected response status %d", resp.StatusCode)
	}
	return nil
}
