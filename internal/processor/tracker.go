package processor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nimasrn/video-report/internal/model"
	"github.com/nimasrn/video-report/internal/poller"
	"github.com/nimasrn/video-report/pkg/logger"
	"github.com/nimasrn/video-report/pkg/prom"
)

// MaxTrackAge stops tracking a report that has not settled after this long,
// e.g. one whose videos are done but which was never blasted.
const MaxTrackAge = 6 * time.Hour

// Tracker polls every report the processor touches and exports its counters
// as gauges until the report settles.
type Tracker struct {
	poller *poller.Poller
	maxAge time.Duration
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	active map[int64]struct{}
	wg     sync.WaitGroup
}

func NewTracker(source poller.Source, interval time.Duration) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		poller: poller.New(source, interval),
		maxAge: MaxTrackAge,
		ctx:    ctx,
		cancel: cancel,
		active: make(map[int64]struct{}),
	}
}

// Track starts watching reportID unless it is already watched.
func (t *Tracker) Track(reportID int64) {
	if t == nil || t.ctx.Err() != nil {
		return
	}

	t.mu.Lock()
	if _, ok := t.active[reportID]; ok {
		t.mu.Unlock()
		return
	}
	t.active[reportID] = struct{}{}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		defer func() {
			t.mu.Lock()
			delete(t.active, reportID)
			t.mu.Unlock()
			prom.ClearReportProgress(reportID)
		}()

		ctx, cancel := context.WithTimeout(t.ctx, t.maxAge)
		defer cancel()

		err := t.poller.Watch(ctx, reportID, exportProgress)
		switch {
		case err == nil:
			logger.Info("report settled", "report_id", reportID)
		case errors.Is(err, context.Canceled):
		default:
			logger.Debug("stopped tracking report", "report_id", reportID, "reason", err)
		}
	}()
}

func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

func (t *Tracker) Stop() {
	t.cancel()
	t.wg.Wait()
}

func exportProgress(r *model.Report) {
	prom.SetReportProgress(r.ID, "total", r.TotalRecords)
	prom.SetReportProgress(r.ID, "processed", r.ProcessedRecords)
	prom.SetReportProgress(r.ID, "success", r.SuccessCount)
	prom.SetReportProgress(r.ID, "failed", r.FailedCount)
	prom.SetReportProgress(r.ID, "wa_sent", r.WaSentCount)
	prom.SetReportProgress(r.ID, "wa_pending", r.WaPendingCount)
	prom.SetReportProgress(r.ID, "wa_failed", r.WaFailedCount)
}
