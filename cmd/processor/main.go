package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimasrn/video-report/internal/app"
	"github.com/nimasrn/video-report/internal/config"
	gateway "github.com/nimasrn/video-report/internal/gateways"
	"github.com/nimasrn/video-report/internal/processor"
	"github.com/nimasrn/video-report/pkg/logger"
	"github.com/nimasrn/video-report/pkg/prom"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// jobSlack is added to collaborator timeouts so a job always records its
// own outcome before the pool gives up on it.
const jobSlack = 10 * time.Second

func main() {
	err := config.Load(app.EnvPathFromArgs(os.Args))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()
	logger.Info("starting processor", "version", version, "commit", commit, "date", date)

	infra, err := app.Connect(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to connect", "error", err)
		return
	}
	defer infra.Close()

	err = prom.Create(app.Hostname(), cfg.AppEnv, cfg.PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	metricsAddr := cfg.AppDebugMetricsAddr
	if metricsAddr == "" {
		metricsAddr = ":9100"
	}
	go prom.ListenAndServer(metricsAddr, cfg.AppDebugMetricsURI)

	rendererPool, err := gateway.NewPool(cfg.RendererGateway())
	if err != nil {
		logger.Error("failed to create renderer client", "error", err)
		return
	}
	defer rendererPool.Close()

	dispatcher, channelPool, err := infra.Dispatcher(cfg)
	if err != nil {
		logger.Error("failed to create channel client", "error", err)
		return
	}
	defer channelPool.Close()

	videos := infra.Videos(cfg, gateway.NewRenderer(rendererPool))
	tracker := processor.NewTracker(infra.ReportService(), cfg.TrackInterval)

	videoService, err := processor.NewProcessorService(infra.Redis, processor.ServiceConfig{
		Queue:      cfg.Queue(cfg.VideoQueueName),
		Workers:    cfg.VideoWorkers,
		JobTimeout: cfg.RenderTimeout + jobSlack,
	}, processor.NewVideoProcessor(videos, tracker))
	if err != nil {
		logger.Error("failed to create video processor", "error", err)
		return
	}

	dispatchService, err := processor.NewProcessorService(infra.Redis, processor.ServiceConfig{
		Queue:      cfg.Queue(cfg.DispatchQueueName),
		Workers:    cfg.DispatchWorkers,
		JobTimeout: cfg.SendTimeout + jobSlack,
	}, processor.NewDispatchProcessor(dispatcher, tracker))
	if err != nil {
		logger.Error("failed to create dispatch processor", "error", err)
		return
	}

	sweeper := processor.NewSweeper(infra.Items, infra.Ledger, cfg.StaleAfter, cfg.SweepSchedule)
	if err := sweeper.Start(); err != nil {
		logger.Error("failed to start sweeper", "error", err)
		return
	}

	if err := videoService.Start(); err != nil {
		logger.Error("failed to start video processor", "error", err)
		return
	}
	if err := dispatchService.Start(); err != nil {
		logger.Error("failed to start dispatch processor", "error", err)
		videoService.Stop()
		return
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	sweeper.Stop()
	videoService.Stop()
	dispatchService.Stop()
	tracker.Stop()
}
