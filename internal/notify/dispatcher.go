package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/metrics"
)

// Dispatcher sends messages on a background goroutine so callers only wait
// for the enqueue. Failed sends are logged and counted, never retried.
type Dispatcher struct {
	n       Notifier
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	queue  chan Message
	done   chan struct{}
}

func NewDispatcher(n Notifier, logger *zap.SugaredLogger, m *metrics.Metrics, size int) *Dispatcher {
	if size <= 0 {
		size = 64
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	d := &Dispatcher{
		n:       n,
		logger:  logger,
		metrics: m,
		timeout: 30 * time.Second,
		queue:   make(chan Message, size),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Enqueue hands msg to the worker. It returns false when the dispatcher is
// closed or the queue is full.
func (d *Dispatcher) Enqueue(msg Message) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- msg:
		return true
	default:
		d.logger.Warnw("notification queue full, dropping message", "to", msg.To)
		d.metrics.Notification("dropped")
		return false
	}
}

// Close stops accepting messages and waits until queued ones are handled.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for msg := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.n.Send(ctx, msg)
		cancel()
		if err != nil {
			d.logger.Warnw("notification failed", "to", msg.To, "err", err)
			d.metrics.Notification("failed")
			continue
		}
		d.metrics.Notification("sent")
		d.logger.Debugw("notification sent", "to", msg.To)
	}
}
