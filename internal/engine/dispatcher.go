package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conversahq/conversa-platform/pkg/logging"
)

// Processor is the downstream decision engine behind the dispatcher.
type Processor interface {
	Orchestrate(ctx context.Context, msg InboundMessage) (*Decision, error)
}

// ErrDispatcherClosed indicates the dispatcher is no longer accepting work.
var ErrDispatcherClosed = errors.New("engine: dispatcher closed")

// decisionJob is the unit of work the dispatcher moves through a queue:
// one inbound message plus the correlation ID the waiting caller is parked
// on.
type decisionJob struct {
	ID      string         `json:"id"`
	Message InboundMessage `json:"message"`
}

// jobDelivery is a received job together with whatever handle the queue
// needs to acknowledge it.
type jobDelivery struct {
	Job           decisionJob
	ReceiptHandle string
}

type queueClient interface {
	SendJob(ctx context.Context, job decisionJob) error
	ReceiveJobs(ctx context.Context, maxJobs int, waitSeconds int) ([]jobDelivery, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Dispatcher routes decision work through a queue before invoking the
// engine. This lets the system point at LocalStack SQS during development
// and swap to AWS SQS in production without touching the HTTP handlers.
type Dispatcher struct {
	processor Processor
	queue     queueClient
	logger    *logging.Logger

	cfg dispatcherConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	pending sync.Map // jobID -> chan dispatchResult
}

var _ Processor = (*Dispatcher)(nil)

const (
	defaultWorkers          = 2
	defaultReceiveWait      = 2  // seconds
	defaultReceiveMax       = 5  // messages
	maxReceiveWaitSeconds   = 20 // SQS limit
	maxReceiveBatchMessages = 10
)

type dispatcherConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*dispatcherConfig)

// WithWorkerCount overrides the number of queue polling goroutines.
func WithWorkerCount(workers int) DispatcherOption {
	return func(cfg *dispatcherConfig) {
		if workers > 0 {
			cfg.workers = workers
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait time for ReceiveMessage calls.
func WithReceiveWaitSeconds(seconds int) DispatcherOption {
	return func(cfg *dispatcherConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxReceiveWaitSeconds {
			seconds = maxReceiveWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize overrides how many messages each poll should return.
func WithReceiveBatchSize(size int) DispatcherOption {
	return func(cfg *dispatcherConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchMessages {
			size = maxReceiveBatchMessages
		}
		cfg.receiveBatchSize = size
	}
}

// NewDispatcher wires a queue-backed dispatcher around the supplied engine.
func NewDispatcher(processor Processor, queue queueClient, logger *logging.Logger, opts ...DispatcherOption) *Dispatcher {
	if processor == nil {
		panic("engine: processor cannot be nil")
	}
	if queue == nil {
		panic("engine: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := dispatcherConfig{
		workers:          defaultWorkers,
		receiveWaitSecs:  defaultReceiveWait,
		receiveBatchSize: defaultReceiveMax,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		processor: processor,
		queue:     queue,
		logger:    logger,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
	}

	for i := 0; i < cfg.workers; i++ {
		d.wg.Add(1)
		go d.runWorker(i + 1)
	}

	return d
}

// Orchestrate enqueues the message and blocks until a worker has produced
// the decision for it.
func (d *Dispatcher) Orchestrate(ctx context.Context, msg InboundMessage) (*Decision, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	jobID := uuid.NewString()

	resultCh := make(chan dispatchResult, 1)
	d.pending.Store(jobID, resultCh)
	defer d.pending.Delete(jobID)

	if err := d.queue.SendJob(ctx, decisionJob{ID: jobID, Message: msg}); err != nil {
		return nil, fmt.Errorf("engine: failed to enqueue job: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultCh:
		return res.decision, res.err
	}
}

// Shutdown stops worker goroutines and notifies any pending callers.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}

	d.pending.Range(func(key, value any) bool {
		if ch, ok := value.(chan dispatchResult); ok {
			select {
			case ch <- dispatchResult{err: ErrDispatcherClosed}:
			default:
			}
		}
		d.pending.Delete(key)
		return true
	})

	return nil
}

func (d *Dispatcher) runWorker(workerID int) {
	defer d.wg.Done()
	d.logger.Debug("engine dispatcher worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-d.ctx.Done():
			d.logger.Debug("engine dispatcher worker stopping", "worker_id", workerID)
			return
		default:
		}

		deliveries, err := d.queue.ReceiveJobs(d.ctx, d.cfg.receiveBatchSize, d.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			d.logger.Error("failed to receive decision jobs", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		if len(deliveries) == 0 {
			continue
		}

		for _, delivery := range deliveries {
			d.handleDelivery(delivery)
		}
	}
}

func (d *Dispatcher) handleDelivery(delivery jobDelivery) {
	decision, err := d.processor.Orchestrate(d.ctx, delivery.Job.Message)

	deleteCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if delErr := d.queue.Delete(deleteCtx, delivery.ReceiptHandle); delErr != nil {
		d.logger.Error("failed to delete decision job", "error", delErr)
	}

	d.deliverResult(delivery.Job.ID, decision, err)
}

func (d *Dispatcher) deliverResult(jobID string, decision *Decision, err error) {
	value, ok := d.pending.Load(jobID)
	if !ok {
		d.logger.Debug("no waiting caller for decision job", "job_id", jobID)
		return
	}

	ch, ok := value.(chan dispatchResult)
	if !ok {
		d.logger.Error("engine dispatcher pending map corrupted", "job_id", jobID)
		d.pending.Delete(jobID)
		return
	}

	select {
	case ch <- dispatchResult{decision: decision, err: err}:
	default:
	}
}

type dispatchResult struct {
	decision *Decision
	err      error
}
