package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"driftwatch/internal/models"
)

// Dispatcher queues notifications and delivers them on a background
// goroutine. Callers never wait for delivery.
type Dispatcher struct {
	channel Channel
	timeout time.Duration
	log     *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan models.Notification
	wg     sync.WaitGroup
}

// NewDispatcher starts a dispatcher with a queue of queueSize notifications.
// Each delivery attempt runs under timeout.
func NewDispatcher(channel Channel, queueSize int, timeout time.Duration, log *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		channel: channel,
		timeout: timeout,
		log:     log.Named("dispatcher"),
		queue:   make(chan models.Notification, queueSize),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Dispatch enqueues n. It returns an error wrapping models.ErrDispatchFailure
// when the queue is full or the dispatcher is closed; the notification is
// dropped in that case.
func (d *Dispatcher) Dispatch(n models.Notification) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return fmt.Errorf("%w: dispatcher closed", models.ErrDispatchFailure)
	}
	select {
	case d.queue <- n:
		return nil
	default:
		return fmt.Errorf("%w: queue full, dropping %s for target %s", models.ErrDispatchFailure, n.Kind, n.TargetID)
	}
}

// Close stops accepting notifications and waits until the queued ones are
// delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for n := range d.queue {
		d.deliver(n)
	}
}

func (d *Dispatcher) deliver(n models.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.channel.Send(ctx, n); err != nil {
		d.log.Warn("notification delivery failed",
			zap.String("kind", string(n.Kind)),
			zap.String("target_id", n.TargetID),
			zap.String("error_kind", string(models.ErrorKindDispatch)),
			zap.Error(fmt.Errorf("%w: %v", models.ErrDispatchFailure, err)))
		return
	}
	d.log.Debug("notification delivered",
		zap.String("kind", string(n.Kind)),
		zap.String("target_id", n.TargetID))
}
