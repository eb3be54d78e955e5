package processor

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/video-report/internal/model"
	"github.com/nimasrn/video-report/pkg/logger"
	"github.com/nimasrn/video-report/pkg/prom"
	"github.com/robfig/cron/v3"
)

const (
	staleVideoMessage    = "generation timed out"
	staleDispatchMessage = "dispatch timed out"
	sweepBatch           = 500
)

type StaleLister interface {
	ListStale(ctx context.Context, before time.Time, limit int) ([]*model.Item, error)
}

type StaleLedger interface {
	UpdateVideoState(ctx context.Context, itemID int64, status model.VideoStatus, upd model.VideoUpdate) (*model.Item, error)
	UpdateWaState(ctx context.Context, itemID int64, status model.WaStatus, upd model.WaUpdate) (*model.Item, error)
}

// Sweeper fails items a crashed worker left in PROCESSING, so no report
// waits forever on work nobody is doing.
type Sweeper struct {
	items      StaleLister
	ledger     StaleLedger
	staleAfter time.Duration
	spec       string
	cron       *cron.Cron
	now        func() time.Time
}

func NewSweeper(items StaleLister, ledger StaleLedger, staleAfter time.Duration, spec string) *Sweeper {
	return &Sweeper{
		items:      items,
		ledger:     ledger,
		staleAfter: staleAfter,
		spec:       spec,
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		now:        time.Now,
	}
}

func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			logger.Error("stale sweep failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	logger.Info("stale sweeper started", "schedule", s.spec, "stale_after", s.staleAfter)
	return nil
}

// Sweep fails every item stuck in PROCESSING longer than staleAfter and
// returns how many it changed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	items, err := s.items.ListStale(ctx, s.now().Add(-s.staleAfter), sweepBatch)
	if err != nil {
		return 0, err
	}

	var videos, dispatches int
	for _, it := range items {
		if it.VideoStatus == model.VideoStatusProcessing {
			_, err := s.ledger.UpdateVideoState(ctx, it.ID, model.VideoStatusFailed, model.VideoUpdate{ErrorMessage: staleVideoMessage})
			if s.recovered(it, "video", err) {
				videos++
			}
		}
		if it.WaStatus == model.WaStatusProcessing {
			_, err := s.ledger.UpdateWaState(ctx, it.ID, model.WaStatusError, model.WaUpdate{ErrorMessage: staleDispatchMessage})
			if s.recovered(it, "dispatch", err) {
				dispatches++
			}
		}
	}

	if videos+dispatches > 0 {
		prom.AddSweeperRecovered("video", videos)
		prom.AddSweeperRecovered("dispatch", dispatches)
		logger.Warn("recovered stale items", "video", videos, "dispatch", dispatches)
	}
	return videos + dispatches, nil
}

func (s *Sweeper) recovered(it *model.Item, phase string, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, model.ErrState):
		// finished between the listing and the update
		return false
	default:
		logger.Error("failed to recover stale item", "item_id", it.ID, "phase", phase, "error", err)
		return false
	}
}

func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	logger.Info("stale sweeper stopped")
}
