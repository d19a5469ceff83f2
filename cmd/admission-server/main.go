/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Command admission-server runs an HTTP server which passes all API requests through the admission queue.
//
//	$ admission-server --config ./config.yml
//	$ curl 'localhost:8080/api/demo/v1/work?duration=200ms'
//	{"sleptMs":200}
//
// Requests which were parked in the queue also report "queuedMs".
//
// Parked requests, rejections and drains are visible at /metrics, the queue depth at /healthz.
// When profServer is enabled, /debug/admission on its address reports the pool saturation as well.
// The load subcommand floods the server and retries requests rejected as too busy:
//
//	$ admission-server load --url 'http://127.0.0.1:8080/api/demo/v1/work?duration=1s' -n 500 -j 100
package main

import (
	"fmt"
	golog "log"
	"time"

	"github.com/spf13/cobra"

	"github.com/acronis/go-admission/config"
	"github.com/acronis/go-admission/httpserver"
	"github.com/acronis/go-admission/log"
	"github.com/acronis/go-admission/profserver"
	"github.com/acronis/go-admission/restapi"
	"github.com/acronis/go-admission/service"
)

const (
	serviceName      = "demo"
	errorDomain      = "AdmissionDemo"
	metricsNamespace = "admission_demo"
	envVarsPrefix    = "ADMISSION"

	queueStatsInterval = time.Second * 30
)

type appConfig struct {
	Log        *log.Config
	Server     *httpserver.Config
	ProfServer *profserver.Config
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		golog.Fatal(err)
	}
}

func newRootCommand() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:          "admission-server",
		Short:        "HTTP server with adaptive request admission",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadAppConfig(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runApp(cfg)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to the YAML configuration file")
	cmd.AddCommand(newLoadCommand())
	return cmd
}

func loadAppConfig(path string) (*appConfig, error) {
	cfg := &appConfig{Log: log.NewConfig(), Server: httpserver.NewConfig(), ProfServer: profserver.NewConfig()}
	cfgLoader := config.NewDefaultLoader(envVarsPrefix)
	if path == "" {
		return cfg, cfgLoader.Load(cfg.Log, cfg.Server, cfg.ProfServer)
	}
	return cfg, cfgLoader.LoadFromFile(path, config.DataTypeYAML, cfg.Log, cfg.Server, cfg.ProfServer)
}

func runApp(cfg *appConfig) error {
	logger, loggerClose := log.NewLogger(cfg.Log)
	defer loggerClose()

	restapi.MustInitAndRegisterMetrics(metricsNamespace)
	defer restapi.UnregisterMetrics()

	httpServer, err := httpserver.New(cfg.Server, logger, httpserver.Opts{
		ServiceNameInURL: serviceName,
		APIRoutes:        map[httpserver.APIVersion]httpserver.APIRoute{1: demoRoutes},
		ErrorDomain:      errorDomain,
		MetricsNamespace: metricsNamespace,
	})
	if err != nil {
		return fmt.Errorf("create http server: %w", err)
	}

	units := []service.Unit{httpServer}
	profOpts := profserver.Opts{ThreadingServices: httpServer.Pool}
	if httpServer.RequestQueue != nil {
		units = append(units, service.NewWorkerUnit(
			service.NewPeriodicWorker(newQueueStatsWorker(httpServer, logger), queueStatsInterval, logger)))
		profOpts.RequestQueue = httpServer.RequestQueue
	}
	if cfg.ProfServer.Enabled {
		units = append(units, profserver.NewWithOpts(cfg.ProfServer, logger, profOpts))
	}

	return service.New(logger, service.NewCompositeUnit(units...)).Start()
}
