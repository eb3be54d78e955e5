// Package app connects the stores every binary shares and builds the
// components that sit on top of them.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/nimasrn/video-report/internal/config"
	"github.com/nimasrn/video-report/internal/dispatch"
	gateway "github.com/nimasrn/video-report/internal/gateways"
	"github.com/nimasrn/video-report/internal/handlers"
	"github.com/nimasrn/video-report/internal/ledger"
	"github.com/nimasrn/video-report/internal/queue"
	"github.com/nimasrn/video-report/internal/repository"
	"github.com/nimasrn/video-report/internal/services"
	"github.com/nimasrn/video-report/internal/sharelink"
	"github.com/nimasrn/video-report/internal/video"
	xhttp "github.com/nimasrn/video-report/pkg/http"
	"github.com/nimasrn/video-report/pkg/logger"
	"github.com/nimasrn/video-report/pkg/pg"
	"github.com/nimasrn/video-report/pkg/redis"
	"github.com/nimasrn/video-report/pkg/storage"
)

type Infra struct {
	DB        *pg.DB
	Redis     redis.RedisAdapter
	Reports   *repository.ReportRepository
	Items     *repository.ItemRepository
	Attempts  *repository.DispatchAttemptRepository
	Ledger    *ledger.Ledger
	Publisher *queue.Publisher
	Links     *sharelink.Issuer
}

// Connect opens postgres and redis for the loaded config.
func Connect(ctx context.Context, cfg *config.Config) (*Infra, error) {
	db, err := pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite(), cfg.AppEnv == "dev" && cfg.AppDebug)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	opts := cfg.Redis()
	opts.ClientName = cfg.AppName
	adapter, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, opts)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return New(ctx, cfg, db, adapter)
}

// New builds the shared components over already open stores.
func New(ctx context.Context, cfg *config.Config, db *pg.DB, adapter redis.RedisAdapter) (*Infra, error) {
	if cfg.QueueConsumerName == "" {
		cfg.QueueConsumerName = Hostname()
	}
	publisher, err := queue.NewPublisher(adapter, cfg.Queue(cfg.VideoQueueName), cfg.Queue(cfg.DispatchQueueName))
	if err != nil {
		return nil, fmt.Errorf("create publisher: %w", err)
	}

	items := repository.NewItemRepository(db)
	l := ledger.New(db, items)

	links := sharelink.NewIssuer(l, adapter, cfg.AppBaseUrl, cfg.ShareLinkTTL)
	if cfg.S3Enable {
		signer, err := storage.NewS3(ctx, cfg.S3())
		if err != nil {
			return nil, fmt.Errorf("create s3 signer: %w", err)
		}
		links.WithSigner(signer)
	}

	return &Infra{
		DB:        db,
		Redis:     adapter,
		Reports:   repository.NewReportRepository(db),
		Items:     items,
		Attempts:  repository.NewDispatchAttemptRepository(db),
		Ledger:    l,
		Publisher: publisher,
		Links:     links,
	}, nil
}

func (i *Infra) ReportService() *services.ReportService {
	return services.NewReportService(i.DB, i.Reports, i.Items, i.Attempts, i.Ledger)
}

// Dispatcher builds the dispatch coordinator with a channel client. The
// caller owns the returned pool.
func (i *Infra) Dispatcher(cfg *config.Config) (*dispatch.Coordinator, *gateway.Pool, error) {
	pool, err := gateway.NewPool(cfg.ChannelGateway())
	if err != nil {
		return nil, nil, err
	}
	c := dispatch.NewCoordinator(dispatch.Deps{
		Ledger:    i.Ledger,
		Reports:   i.Reports,
		Items:     i.Items,
		Channel:   gateway.NewChannel(pool),
		Links:     i.Links,
		Attempts:  i.Attempts,
		Guard:     i.Guard(cfg),
		Publisher: i.Publisher,
		Early: dispatch.NewRedisEarlyStatuses(i.Redis, dispatch.EarlyStatusConfig{
			TTL: cfg.DeliveryStatusHoldTTL,
		}),
	}, cfg.SendTimeout)
	return c, pool, nil
}

// Videos builds the video coordinator. The api passes a nil renderer since
// it only queues generation.
func (i *Infra) Videos(cfg *config.Config, renderer video.Renderer) *video.Coordinator {
	return video.NewCoordinator(i.Ledger, i.Reports, i.Items, renderer, i.Publisher, cfg.RenderTimeout)
}

// Router mounts every api route on a fresh router.
func (i *Infra) Router(cfg *config.Config, videos handlers.VideoService, dispatcher handlers.DispatchService) *xhttp.Router {
	reports := i.ReportService()

	r := xhttp.CreateDefaultRouter()
	g := r.Group(cfg.HttpBaseRequestUrl)
	handlers.RegisterReportRoutes(g, handlers.NewReportHandler(reports))
	handlers.RegisterPipelineRoutes(g, handlers.NewPipelineHandler(videos, dispatcher))
	handlers.RegisterShareRoutes(g, r.Group("/s"), handlers.NewShareHandler(i.Links, reports))
	handlers.RegisterHealthRoutes(g, handlers.NewHealthHandler(services.NewHealthService(i.DB, i.Redis)))
	return r
}

func (i *Infra) Guard(cfg *config.Config) *dispatch.RedisGuard {
	gc := dispatch.DefaultGuardConfig()
	gc.LockTTL = cfg.DispatchLockTTL
	return dispatch.NewRedisGuard(i.Redis, gc)
}

func (i *Infra) Close() {
	if err := i.Publisher.Close(); err != nil {
		logger.Warn("failed to close publisher", "error", err)
	}
}

func Hostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}

// EnvPathFromArgs returns the file passed as --env=path, if it exists.
func EnvPathFromArgs(args []string) string {
	for _, v := range args {
		if strings.HasPrefix(v, "--env=") {
			path := strings.TrimPrefix(v, "--env=")
			if _, err := os.Stat(path); err != nil {
				logger.Error("failed to open the passed env file", "path", path, "error", err)
				return ""
			}
			return path
		}
	}
	return ""
}
