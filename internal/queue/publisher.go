package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nimasrn/video-report/internal/model"
	"github.com/nimasrn/video-report/pkg/redis"
)

// Publisher writes typed jobs onto the video and dispatch streams. It is
// used by the api, which never consumes.
type Publisher struct {
	video    *Queue
	dispatch *Queue
}

func NewPublisher(adapter redis.RedisAdapter, videoCfg, dispatchCfg QueueConfig) (*Publisher, error) {
	video, err := NewQueue(adapter, videoCfg)
	if err != nil {
		return nil, fmt.Errorf("video queue: %w", err)
	}
	dispatch, err := NewQueue(adapter, dispatchCfg)
	if err != nil {
		return nil, fmt.Errorf("dispatch queue: %w", err)
	}
	return &Publisher{video: video, dispatch: dispatch}, nil
}

func (p *Publisher) PublishVideo(ctx context.Context, job model.VideoJob) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	_, err := p.video.PublishJSON(ctx, job, map[string]string{
		"report_id": strconv.FormatInt(job.ReportID, 10),
		"item_id":   strconv.FormatInt(job.ItemID, 10),
	})
	return err
}

func (p *Publisher) PublishDispatch(ctx context.Context, job model.DispatchJob) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	_, err := p.dispatch.PublishJSON(ctx, job, map[string]string{
		"report_id": strconv.FormatInt(job.ReportID, 10),
		"item_id":   strconv.FormatInt(job.ItemID, 10),
	})
	return err
}

// Close releases both streams. Jobs already written stay in redis.
func (p *Publisher) Close() error {
	verr := p.video.Stop(5 * time.Second)
	derr := p.dispatch.Stop(5 * time.Second)
	if verr != nil {
		return verr
	}
	return derr
}
