package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/video-report/internal/queue"
	"github.com/nimasrn/video-report/pkg/logger"
	"github.com/nimasrn/video-report/pkg/prom"
	"github.com/nimasrn/video-report/pkg/redis"
	"github.com/nimasrn/video-report/pkg/worker"
)

const HealthInterval = time.Second * 30
const MetricsInterval = time.Second * 30
const ShutdownTimeout = time.Minute

// highLag is the pending count above which the health check warns.
const highLag = 10_000

// Processor handles one decoded queue message.
type Processor interface {
	Process(ctx context.Context, message *queue.Message) error
	GetType() string
}

type ServiceConfig struct {
	Queue queue.QueueConfig
	// Workers bounds the concurrent calls into the collaborator behind
	// the processor. One stream consumer is started per worker.
	Workers int
	// JobTimeout bounds one Process call, including the wait for a worker.
	JobTimeout time.Duration
}

// ProcessorService consumes one stream and runs its processor on a bounded
// worker pool.
type ProcessorService struct {
	adapter   redis.RedisAdapter
	config    ServiceConfig
	queues    []*queue.Queue
	processor Processor
	metrics   *ServiceMetrics
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	worker    *worker.WorkerManager
}

func NewProcessorService(adapter redis.RedisAdapter, config ServiceConfig, processor Processor) (*ProcessorService, error) {
	if processor == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessorService{
		adapter:   adapter,
		config:    config,
		processor: processor,
		metrics:   NewServiceMetrics(),
		ctx:       ctx,
		cancel:    cancel,
		worker:    worker.NewWorkerManager(config.Workers*2, config.Workers, nil),
	}, nil
}

func (s *ProcessorService) Start() error {
	logger.Info("starting processor service", "type", s.processor.GetType(), "queue", s.config.Queue.Name)

	s.worker.SetWorker(s.workerHandler)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.worker.Start(); err != nil {
			logger.Info("worker manager stopped", "type", s.processor.GetType(), "reason", err)
		}
	}()

	for i := 0; i < s.config.Workers; i++ {
		cfg := s.config.Queue
		cfg.ConsumerName = fmt.Sprintf("%s-%s-%d", cfg.ConsumerName, s.processor.GetType(), i)

		q, err := queue.NewQueue(s.adapter, cfg)
		if err != nil {
			return fmt.Errorf("failed to create queue %d: %w", i, err)
		}
		if err := q.Consume(s.messageHandler); err != nil {
			return fmt.Errorf("failed to start consumer %d: %w", i, err)
		}
		s.queues = append(s.queues, q)
	}

	s.wg.Add(2)
	go s.metricsReporter()
	go s.healthChecker()

	logger.Info("processor service started", "type", s.processor.GetType(), "consumers", len(s.queues), "workers", s.worker.Size())
	return nil
}

func (s *ProcessorService) metricsReporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reportMetrics()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) reportMetrics() {
	stats := s.metrics.Snapshot()
	logger.Info("processor metrics",
		"type", s.processor.GetType(),
		"total_processed", stats.Processed,
		"total_failed", stats.Failed,
		"rate_per_second", stats.RatePerSecond,
		"avg_duration_ms", stats.AvgDuration.Milliseconds(),
		"uptime_seconds", stats.Uptime.Seconds())

	if len(s.queues) == 0 {
		return
	}
	// every consumer reads the same stream, one of them is enough
	if qStats, err := s.queues[0].GetStats(context.Background()); err == nil {
		logger.Info("queue stats", "queue", s.config.Queue.Name, "total", qStats.TotalMessages, "pending", qStats.PendingMessages, "consumers", qStats.ConsumerCount)
	}
}

func (s *ProcessorService) healthChecker() {
	defer s.wg.Done()

	ticker := time.NewTicker(HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.performHealthCheck()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) performHealthCheck() {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	if err := s.adapter.Ping(ctx); err != nil {
		logger.Error("health check failed: redis connection error", "type", s.processor.GetType(), "error", err)
		return
	}
	if len(s.queues) == 0 {
		return
	}
	stats, err := s.queues[0].GetStats(ctx)
	if err != nil {
		logger.Warn("health check: queue stats unavailable", "queue", s.config.Queue.Name, "error", err)
		return
	}
	if stats.PendingMessages > highLag {
		logger.Warn("health check: queue has high lag", "queue", s.config.Queue.Name, "pending_messages", stats.PendingMessages)
	}
}

// Stop drains the consumers first, then the worker pool.
func (s *ProcessorService) Stop() {
	logger.Info("shutting down processor service", "type", s.processor.GetType())

	s.cancel()

	var wg sync.WaitGroup
	for i, q := range s.queues {
		wg.Add(1)
		go func(index int, q *queue.Queue) {
			defer wg.Done()
			if err := q.Stop(ShutdownTimeout); err != nil {
				logger.Error("error stopping queue", "queue", index, "error", err)
			}
		}(i, q)
	}
	wg.Wait()

	s.worker.Exit()
	s.wg.Wait()

	s.reportMetrics()
	logger.Info("processor service stopped", "type", s.processor.GetType())
}

type jobResult struct {
	msg        *queue.Message
	resultChan chan error
	ctx        context.Context
}

// messageHandler hands a message to the pool and waits for its result, so
// the stream only acks what a worker finished.
func (s *ProcessorService) messageHandler(ctx context.Context, msg *queue.Message) error {
	msgCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	job := &jobResult{
		msg:        msg,
		resultChan: make(chan error, 1),
		ctx:        msgCtx,
	}

	if err := s.worker.Enqueue(job); err != nil {
		return err
	}

	select {
	case err := <-job.resultChan:
		return err
	case <-msgCtx.Done():
		return fmt.Errorf("timeout waiting for worker to process message: %w", msgCtx.Err())
	}
}

func (s *ProcessorService) workerHandler(workerIndex int, job interface{}) {
	jobRes, ok := job.(*jobResult)
	if !ok {
		logger.Error("invalid job type in worker", "worker", workerIndex)
		return
	}

	select {
	case <-jobRes.ctx.Done():
		logger.Warn("job context cancelled before processing started", "worker", workerIndex, "id", jobRes.msg.ID)
		return
	default:
	}

	start := time.Now()
	err := s.processor.Process(jobRes.ctx, jobRes.msg)
	elapsed := time.Since(start)

	if err != nil {
		s.metrics.RecordFailure()
		logger.Warn("failed to process message", "type", s.processor.GetType(), "worker", workerIndex, "id", jobRes.msg.ID, "attempts", jobRes.msg.Attempts, "error", err)
	} else {
		s.metrics.RecordSuccess(elapsed)
	}
	prom.ObserveJob(s.config.Queue.Name, err == nil, elapsed.Seconds())

	// resultChan is buffered, the waiter may already be gone
	jobRes.resultChan <- err
}
