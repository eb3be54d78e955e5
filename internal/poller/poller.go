// Package poller keeps a report view current until both of its phases settle.
package poller

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/video-report/internal/model"
	"github.com/nimasrn/video-report/pkg/logger"
)

const DefaultInterval = 5 * time.Second

// Source returns a freshly aggregated report view.
type Source interface {
	Get(ctx context.Context, id int64) (*model.Report, error)
}

type Poller struct {
	source   Source
	interval time.Duration
}

func New(source Source, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{source: source, interval: interval}
}

// Watch reads the report now and then on every tick, handing each snapshot
// to fn. It returns nil once the report is settled, ctx.Err() when ctx ends
// and a model.ErrNotFound error when the report is gone. Other read errors
// are logged and the next tick tries again.
func (p *Poller) Watch(ctx context.Context, reportID int64, fn func(*model.Report)) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		done, err := p.poll(ctx, reportID, fn)
		if done || err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Poller) poll(ctx context.Context, reportID int64, fn func(*model.Report)) (bool, error) {
	report, err := p.source.Get(ctx, reportID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return true, err
	case err != nil && ctx.Err() != nil:
		return true, ctx.Err()
	case err != nil:
		logger.Warn("poll failed", "report_id", reportID, "error", err)
		return false, nil
	}

	if fn != nil {
		fn(report)
	}
	return Settled(report), nil
}

// Settled reports whether polling can stop.
func Settled(r *model.Report) bool {
	return r.ReportStats.Settled()
}

// SourceFunc adapts a plain function to Source.
type SourceFunc func(ctx context.Context, id int64) (*model.Report, error)

func (f SourceFunc) Get(ctx context.Context, id int64) (*model.Report, error) {
	return f(ctx, id)
}
