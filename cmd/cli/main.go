package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/nimasrn/video-report/internal/app"
	"github.com/nimasrn/video-report/internal/config"
	"github.com/nimasrn/video-report/internal/ledger"
	"github.com/nimasrn/video-report/internal/model"
	"github.com/nimasrn/video-report/internal/poller"
	"github.com/nimasrn/video-report/internal/repository"
	"github.com/nimasrn/video-report/internal/services"
	"github.com/nimasrn/video-report/migrations"
	"github.com/nimasrn/video-report/pkg/logger"
	"github.com/nimasrn/video-report/pkg/pg"
)

// main.go [--env=.env] [--dir=./migrations]    apply migrations
// main.go [--env=.env] --watch=<report id>     follow a report until it settles
func main() {
	err := config.Load(getEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()

	if v := argValue("--watch="); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			logger.Error("invalid report id", "value", v)
			os.Exit(2)
		}
		if err := watch(cfg, id); err != nil {
			logger.Error("watch failed", "report_id", id, "error", err)
			os.Exit(1)
		}
		return
	}

	if dir := argValue("--dir="); dir != "" {
		err = pg.Migrate(cfg.PostgresWrite(), nil, dir)
	} else {
		err = pg.Migrate(cfg.PostgresWrite(), migrations.FS, ".")
	}
	if err != nil {
		logger.Error("migration: error running migrations", "error", err)
		os.Exit(1)
	}
}

func watch(cfg *config.Config, reportID int64) error {
	db, err := pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite(), false)
	if err != nil {
		return err
	}
	items := repository.NewItemRepository(db)
	reports := services.NewReportService(db,
		repository.NewReportRepository(db),
		items,
		repository.NewDispatchAttemptRepository(db),
		ledger.New(db, items),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return poller.New(reports, cfg.TrackInterval).Watch(ctx, reportID, printReport)
}

func printReport(r *model.Report) {
	fmt.Printf("report %d [%s] videos %d/%d (ok %d, failed %d) wa sent %d pending %d failed %d\n",
		r.ID, r.Status, r.ProcessedRecords, r.TotalRecords, r.SuccessCount, r.FailedCount,
		r.WaSentCount, r.WaPendingCount, r.WaFailedCount)
}

func argValue(prefix string) string {
	for _, v := range os.Args[1:] {
		if strings.HasPrefix(v, prefix) {
			return strings.TrimPrefix(v, prefix)
		}
	}
	return ""
}

func getEnvPath() string {
	if path := app.EnvPathFromArgs(os.Args); path != "" {
		return path
	}
	if _, err := os.Stat(".env"); err != nil {
		return ""
	}
	return ".env"
}
