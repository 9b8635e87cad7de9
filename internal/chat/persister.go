package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/fenggwsx/RoomChat/internal/config"
	"github.com/fenggwsx/RoomChat/internal/metrics"
	"github.com/fenggwsx/RoomChat/internal/storage"
)

// Archiver accepts messages for durable storage without blocking.
type Archiver interface {
	Enqueue(msg storage.Message) error
}

// Persister writes messages to a store from a pool of workers, retrying
// each write with exponential backoff.
type Persister struct {
	store  storage.MessageStore
	cfg    config.PersistConfig
	logger zerolog.Logger
	queue  chan storage.Message
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	// OnFailure and OnSuccess observe the final outcome of each write.
	OnFailure func(msg storage.Message, err error)
	OnSuccess func(msg storage.Message, id string)
}

// NewPersister prepares a persister; call Start to launch its workers.
func NewPersister(store storage.MessageStore, cfg config.PersistConfig, logger zerolog.Logger) *Persister {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Persister{
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "persister").Logger(),
		queue:  make(chan storage.Message, cfg.QueueSize),
	}
}

// Start launches the worker pool. Workers exit once Close drains the queue.
func (p *Persister) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for msg := range p.queue {
				p.write(ctx, msg)
			}
		}()
	}
}

// Enqueue hands msg to the workers. A full or closed queue is reported as a
// persistence failure immediately.
func (p *Persister) Enqueue(msg storage.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return p.fail(msg, "closed", fmt.Errorf("persister closed: %w", ErrPersistenceFailure))
	}
	select {
	case p.queue <- msg:
		return nil
	default:
		return p.fail(msg, "queue_full", fmt.Errorf("queue full: %w", ErrPersistenceFailure))
	}
}

// Close stops accepting messages and waits for queued writes to finish.
func (p *Persister) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Persister) write(ctx context.Context, msg storage.Message) {
	policy := backoff.NewExponentialBackOff()
	if p.cfg.InitialBackoff > 0 {
		policy.InitialInterval = p.cfg.InitialBackoff
	}
	if p.cfg.MaxBackoff > 0 {
		policy.MaxInterval = p.cfg.MaxBackoff
	}
	policy.MaxElapsedTime = 0
	policy.Reset()

	// Every attempt writes the same id so a retry after a committed attempt
	// cannot duplicate the message.
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}

	var id string
	start := time.Now()
	op := func() error {
		attemptCtx := ctx
		if p.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
			defer cancel()
		}
		var err error
		id, err = p.store.AppendMessage(attemptCtx, &msg)
		return err
	}
	notify := func(err error, wait time.Duration) {
		metrics.PersistRetries.Inc()
		p.logger.Debug().Err(err).
			Str("room_id", msg.RoomID).
			Uint64("seq", msg.Seq).
			Dur("wait", wait).
			Msg("retrying message write")
	}

	retries := uint64(p.cfg.MaxAttempts - 1)
	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx), notify)
	if err != nil {
		_ = p.fail(msg, "exhausted", fmt.Errorf("after %d attempts: %w: %w", p.cfg.MaxAttempts, ErrPersistenceFailure, err))
		return
	}

	metrics.PersistLatency.Observe(time.Since(start).Seconds())
	if p.OnSuccess != nil {
		p.OnSuccess(msg, id)
	}
}

func (p *Persister) fail(msg storage.Message, reason string, err error) error {
	metrics.PersistFailures.WithLabelValues(reason).Inc()
	p.logger.Error().Err(err).
		Str("room_id", msg.RoomID).
		Str("sender_id", msg.SenderID).
		Uint64("seq", msg.Seq).
		Msg("message not persisted")
	if p.OnFailure != nil {
		p.OnFailure(msg, err)
	}
	return err
}
