// Package video drives the rendering half of a report: it fans out one job
// per pending item and records each render outcome in the ledger.
package video

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/video-report/internal/model"
	"github.com/nimasrn/video-report/pkg/logger"
)

type Ledger interface {
	GetItem(ctx context.Context, itemID int64) (*model.Item, error)
	UpdateVideoState(ctx context.Context, itemID int64, status model.VideoStatus, upd model.VideoUpdate) (*model.Item, error)
	ResetVideo(ctx context.Context, itemID int64) (*model.Item, error)
}

type ReportReader interface {
	GetByID(ctx context.Context, id int64) (*model.Report, error)
}

type ItemLister interface {
	ListByReport(ctx context.Context, reportID int64) ([]*model.Item, error)
}

// Renderer is the external rendering service.
type Renderer interface {
	Render(ctx context.Context, templateRef, recipientName string) (string, error)
}

type Publisher interface {
	PublishVideo(ctx context.Context, job model.VideoJob) error
}

type Coordinator struct {
	ledger    Ledger
	reports   ReportReader
	items     ItemLister
	renderer  Renderer
	publisher Publisher
	timeout   time.Duration
}

func NewCoordinator(ledger Ledger, reports ReportReader, items ItemLister, renderer Renderer, publisher Publisher, timeout time.Duration) *Coordinator {
	return &Coordinator{
		ledger:    ledger,
		reports:   reports,
		items:     items,
		renderer:  renderer,
		publisher: publisher,
		timeout:   timeout,
	}
}

// GenerateAll queues every pending, non-excluded item of the report and
// returns without waiting for any render.
func (c *Coordinator) GenerateAll(ctx context.Context, reportID int64) (int, error) {
	if _, err := c.reports.GetByID(ctx, reportID); err != nil {
		return 0, err
	}

	items, err := c.items.ListByReport(ctx, reportID)
	if err != nil {
		return 0, err
	}

	var (
		queued   int
		firstErr error
	)
	for _, it := range items {
		if it.Excluded || it.VideoStatus != model.VideoStatusPending {
			continue
		}
		if err := c.publisher.PublishVideo(ctx, model.VideoJob{ReportID: reportID, ItemID: it.ID}); err != nil {
			logger.Error("failed to queue video job", "report_id", reportID, "item_id", it.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		queued++
	}

	if queued == 0 && firstErr != nil {
		return 0, firstErr
	}
	logger.Info("video generation queued", "report_id", reportID, "queued", queued)
	return queued, nil
}

// Regenerate resets one failed item and queues it again.
func (c *Coordinator) Regenerate(ctx context.Context, reportID, itemID int64) (*model.Item, error) {
	item, err := c.ledger.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.ReportID != reportID {
		return nil, fmt.Errorf("%w: item %d in report %d", model.ErrNotFound, itemID, reportID)
	}
	if item.Excluded {
		return nil, fmt.Errorf("%w: item %d is excluded", model.ErrPrecondition, itemID)
	}

	item, err = c.ledger.ResetVideo(ctx, itemID)
	if err != nil {
		return nil, err
	}

	if err := c.publisher.PublishVideo(ctx, model.VideoJob{ReportID: reportID, ItemID: itemID}); err != nil {
		return nil, err
	}
	return item, nil
}

// Generate renders one item. A job for an item that is no longer pending is
// a duplicate and is dropped.
func (c *Coordinator) Generate(ctx context.Context, itemID int64) error {
	item, err := c.ledger.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			logger.Warn("video job for missing item", "item_id", itemID)
			return nil
		}
		return err
	}
	if item.Excluded || item.VideoStatus != model.VideoStatusPending {
		logger.Debug("skipping video job", "item_id", itemID, "status", item.VideoStatus, "excluded", item.Excluded)
		return nil
	}

	report, err := c.reports.GetByID(ctx, item.ReportID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		return err
	}

	item, err = c.ledger.UpdateVideoState(ctx, itemID, model.VideoStatusProcessing, model.VideoUpdate{})
	if err != nil {
		if errors.Is(err, model.ErrState) || errors.Is(err, model.ErrNotFound) {
			logger.Debug("video job already claimed", "item_id", itemID)
			return nil
		}
		return err
	}

	url, renderErr := c.render(ctx, report.TemplateRef, item.Name)

	// the outcome is recorded even if the job context ran out meanwhile
	rec := context.WithoutCancel(ctx)
	if renderErr != nil {
		logger.Warn("video render failed", "report_id", item.ReportID, "item_id", itemID, "error", renderErr)
		_, err = c.ledger.UpdateVideoState(rec, itemID, model.VideoStatusFailed, model.VideoUpdate{ErrorMessage: renderErr.Error()})
		return err
	}

	logger.Info("video rendered", "report_id", item.ReportID, "item_id", itemID)
	_, err = c.ledger.UpdateVideoState(rec, itemID, model.VideoStatusDone, model.VideoUpdate{URL: url})
	return err
}

func (c *Coordinator) render(ctx context.Context, templateRef, name string) (string, error) {
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url, err := c.renderer.Render(rctx, templateRef, name)
	switch {
	case err != nil && errors.Is(rctx.Err(), context.DeadlineExceeded):
		return "", fmt.Errorf("render timed out after %s", c.timeout)
	case err != nil:
		return "", err
	case url == "":
		return "", errors.New("renderer returned no video url")
	}
	return url, nil
}
