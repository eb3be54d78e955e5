package processor

import (
	"context"
	"fmt"

	"github.com/nimasrn/video-report/internal/model"
	"github.com/nimasrn/video-report/internal/queue"
	"github.com/nimasrn/video-report/pkg/logger"
)

type VideoGenerator interface {
	Generate(ctx context.Context, itemID int64) error
}

type Deliverer interface {
	Deliver(ctx context.Context, itemID int64) error
}

// ReportTracker is told about every report a job belongs to.
type ReportTracker interface {
	Track(reportID int64)
}

// VideoProcessor renders the item named by a video job.
type VideoProcessor struct {
	generator VideoGenerator
	tracker   ReportTracker
}

func NewVideoProcessor(generator VideoGenerator, tracker ReportTracker) *VideoProcessor {
	return &VideoProcessor{generator: generator, tracker: tracker}
}

func (p *VideoProcessor) GetType() string {
	return "video"
}

func (p *VideoProcessor) Process(ctx context.Context, msg *queue.Message) error {
	var job model.VideoJob
	if err := msg.Decode(&job); err != nil || job.ItemID == 0 {
		// a malformed job never succeeds, drop it
		logger.Error("invalid video job", "id", msg.ID, "error", err)
		return nil
	}
	if p.tracker != nil {
		p.tracker.Track(job.ReportID)
	}
	if err := p.generator.Generate(ctx, job.ItemID); err != nil {
		return fmt.Errorf("generate item %d: %w", job.ItemID, err)
	}
	return nil
}

// DispatchProcessor sends the item named by a dispatch job.
type DispatchProcessor struct {
	deliverer Deliverer
	tracker   ReportTracker
}

func NewDispatchProcessor(deliverer Deliverer, tracker ReportTracker) *DispatchProcessor {
	return &DispatchProcessor{deliverer: deliverer, tracker: tracker}
}

func (p *DispatchProcessor) GetType() string {
	return "dispatch"
}

func (p *DispatchProcessor) Process(ctx context.Context, msg *queue.Message) error {
	var job model.DispatchJob
	if err := msg.Decode(&job); err != nil || job.ItemID == 0 {
		logger.Error("invalid dispatch job", "id", msg.ID, "error", err)
		return nil
	}
	if p.tracker != nil {
		p.tracker.Track(job.ReportID)
	}
	if err := p.deliverer.Deliver(ctx, job.ItemID); err != nil {
		return fmt.Errorf("deliver item %d: %w", job.ItemID, err)
	}
	return nil
}
