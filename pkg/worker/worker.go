package worker

import (
	"errors"
	"sync"

	"github.com/nimasrn/video-report/pkg/logger"
)

type WorkerHandler = func(workerIndex int, job interface{})

var ErrStopped = errors.New("workers terminated")

// WorkerManager fans jobs out to a fixed pool of goroutines. The pool size
// is the concurrency limit towards whatever the handler calls.
type WorkerManager struct {
	bufferSize     int
	jobChannel     chan interface{}
	numberOfWorker int
	stop           chan struct{}
	stopOnce       sync.Once
	do             WorkerHandler
	waiter         *sync.WaitGroup
}

// NewWorkerManager creates a pool of numberOfWorkers goroutines reading from
// jobChannel. A nil channel is replaced by one buffered to bufferSize. An
// externally passed channel is never closed by the manager.
func NewWorkerManager(bufferSize, numberOfWorkers int, jobChannel chan interface{}) *WorkerManager {
	if jobChannel == nil {
		jobChannel = make(chan interface{}, bufferSize)
	}
	if numberOfWorkers <= 0 {
		numberOfWorkers = 1
	}

	return &WorkerManager{
		bufferSize:     bufferSize,
		numberOfWorker: numberOfWorkers,
		jobChannel:     jobChannel,
		stop:           make(chan struct{}),
		waiter:         &sync.WaitGroup{},
	}
}

func (w *WorkerManager) GetUnreadCount() int64 {
	if w.jobChannel == nil {
		return 0
	}
	return int64(len(w.jobChannel))
}

func (w *WorkerManager) Size() int {
	return w.numberOfWorker
}

func (w *WorkerManager) SetWorker(worker WorkerHandler) {
	w.do = worker
}

// Enqueue blocks until a buffer slot is free. It returns ErrStopped once the
// pool has been told to exit.
func (w *WorkerManager) Enqueue(val interface{}) error {
	select {
	case <-w.stop:
		return ErrStopped
	default:
	}

	select {
	case w.jobChannel <- val:
		return nil
	case <-w.stop:
		return ErrStopped
	}
}

// Start runs the workers and blocks until Exit is called.
func (w *WorkerManager) Start() error {
	w.waiter.Add(w.numberOfWorker)
	for i := 0; i < w.numberOfWorker; i++ {
		go func(index int) {
			defer w.waiter.Done()
			for {
				select {
				case job := <-w.jobChannel:
					w.do(index, job)
				case <-w.stop:
					return
				}
			}
		}(i)
	}
	w.waiter.Wait()

	return ErrStopped
}

// Exit stops every worker after its current job.
func (w *WorkerManager) Exit() {
	w.stopOnce.Do(func() {
		logger.Info("worker manager is going to be shutdown", "workers", w.numberOfWorker)
		close(w.stop)
	})
}
