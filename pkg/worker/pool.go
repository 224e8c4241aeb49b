package worker

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"github.com/b00skit/antelope-sync/pkg/consumer"
	"github.com/b00skit/antelope-sync/pkg/logger"

	"go.uber.org/zap"
)

// ErrPoolClosed is returned by Submit after Shutdown
var ErrPoolClosed = errors.New("worker pool closed")

// Handler processes one message. Returning nil marks the message done and
// its offset is committed. A non-nil error leaves the offset uncommitted so
// the message is redelivered after a restart.
type Handler func(ctx context.Context, msg consumer.Message) error

// WorkerPool fans messages out to a fixed set of workers. Messages with the
// same key always land on the same worker and are handled in order.
type WorkerPool struct {
	logger     *logger.Logger
	consumer   consumer.Consumer
	handler    Handler
	numWorkers int
	inputs     []chan consumer.Message
	wg         sync.WaitGroup
	cancel     context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool creates a new WorkerPool instance
func NewWorkerPool(l *logger.Logger, c consumer.Consumer, h Handler, numWorkers int) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	inputs := make([]chan consumer.Message, numWorkers)
	for i := range inputs {
		inputs[i] = make(chan consumer.Message, 2) // Buffered for smooth handoff
	}
	return &WorkerPool{
		logger:     l,
		consumer:   c,
		handler:    h,
		numWorkers: numWorkers,
		inputs:     inputs,
	}
}

// Start initializes the worker goroutines
func (p *WorkerPool) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.runWorker(workerCtx, i)
	}
}

// Submit routes a message to the worker owning its key
func (p *WorkerPool) Submit(ctx context.Context, msg consumer.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.inputs[p.slot(msg.Key)] <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *WorkerPool) slot(key []byte) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32() % uint32(p.numWorkers))
}

func (p *WorkerPool) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()

	p.logger.Debug("worker started", zap.Int("worker_id", id))

	for {
		select {
		case msg, ok := <-p.inputs[id]:
			if !ok {
				return
			}
			p.process(ctx, msg)

		case <-ctx.Done():
			return
		}
	}
}

func (p *WorkerPool) process(ctx context.Context, msg consumer.Message) {
	if err := p.handler(ctx, msg); err != nil {
		p.logger.Error("message left uncommitted", err,
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset))
		return
	}

	// Commit offsets only after the handler finished
	if err := p.consumer.Commit(ctx, msg); err != nil {
		p.logger.Error("failed to commit offset", err, zap.Int64("offset", msg.Offset))
	}
}

// Shutdown stops accepting messages, lets workers drain their queues and
// waits for them to finish. When ctx expires first the in-flight handlers are
// cancelled.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		for _, in := range p.inputs {
			close(in)
		}
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if p.cancel != nil {
			p.cancel()
		}
		return ctx.Err()
	}
}
