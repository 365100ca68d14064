package persistence

import (
	"sync"

	"go.uber.org/zap"
)

type writeJob struct {
	path string
	data []byte
}

// asyncWriter serializes deferred fragment writes on one background
// goroutine. Enqueueing never blocks the caller; when the queue is full
// the write falls through to the caller's goroutine instead of being
// dropped, since state writes must not be lost.
type asyncWriter struct {
	logger *zap.Logger
	jobs   chan writeJob
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	pending sync.WaitGroup
}

func newAsyncWriter(logger *zap.Logger) *asyncWriter {
	return &asyncWriter{
		logger: logger,
		jobs:   make(chan writeJob, 64),
		done:   make(chan struct{}),
	}
}

func (w *asyncWriter) start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true
	w.wg.Add(1)
	go w.run()
}

func (w *asyncWriter) enqueue(job writeJob) {
	w.pending.Add(1)
	select {
	case w.jobs <- job:
	default:
		// Queue full: write on this goroutine rather than lose the write.
		w.perform(job)
	}
}

func (w *asyncWriter) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			for {
				select {
				case job := <-w.jobs:
					w.perform(job)
				default:
					return
				}
			}
		case job := <-w.jobs:
			w.perform(job)
		}
	}
}

func (w *asyncWriter) perform(job writeJob) {
	defer w.pending.Done()
	if err := atomicWrite(job.path, job.data); err != nil {
		w.logger.Error("async state write failed",
			zap.String("path", job.path),
			zap.Error(err),
		)
		return
	}
	w.logger.Debug("state fragment written", zap.String("path", job.path))
}

// flush waits for every enqueued job to complete.
func (w *asyncWriter) flush() {
	w.pending.Wait()
}

func (w *asyncWriter) stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	w.mu.Unlock()

	w.pending.Wait()
	close(w.done)
	w.wg.Wait()
}
