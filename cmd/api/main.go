package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimasrn/video-report/internal/app"
	"github.com/nimasrn/video-report/internal/config"
	xhttp "github.com/nimasrn/video-report/pkg/http"
	"github.com/nimasrn/video-report/pkg/logger"
	"github.com/nimasrn/video-report/pkg/prom"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	err := config.Load(app.EnvPathFromArgs(os.Args))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()
	logger.Info("starting api", "version", version, "commit", commit, "date", date)

	infra, err := app.Connect(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to connect", "error", err)
		return
	}
	defer infra.Close()

	dispatcher, channelPool, err := infra.Dispatcher(cfg)
	if err != nil {
		logger.Error("failed to create channel client", "error", err)
		return
	}
	defer channelPool.Close()

	// the api only queues generation, rendering happens in the processor
	videos := infra.Videos(cfg, nil)

	opts := xhttp.DefaultServerOption.
		WithTimeouts(time.Duration(cfg.HttpServerReadTimeout)*time.Second, time.Duration(cfg.HttpServerWriteTimeout)*time.Second).
		WithBuffers(cfg.HttpServerReadBufferSize, cfg.HttpServerWriteBufferSize)
	s := xhttp.CreateServerWith(opts)
	s.Router = infra.Router(cfg, videos, dispatcher)
	s.Use(xhttp.RequestIDMiddleware)
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.MetricsMiddleware(prom.ObserveHTTPRequest))
	s.Use(xhttp.CompressMiddleware(6))
	// resend waits for the channel
	s.Use(xhttp.TimeoutMiddleware(cfg.SendTimeout + 5*time.Second))
	s.Use(xhttp.RecoverMiddleware)

	if cfg.AppDebugMetricsAddr != "" {
		if err := prom.Create(app.Hostname(), cfg.AppEnv, cfg.PromNamespace); err != nil {
			logger.Error("failed to create prometheus metrics", "error", err)
			return
		}
		go prom.ListenAndServer(cfg.AppDebugMetricsAddr, cfg.AppDebugMetricsURI)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := s.ListenAndServe(cfg.HttpListenAddr); err != nil {
			logger.Error("error in running http-server", "error", err)
			c <- syscall.SIGTERM
		}
	}()

	<-c
	s.Shutdown()
}
