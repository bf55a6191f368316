package notify

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Dispatcher queues events and delivers them from a background goroutine,
// so callers never wait on a slow channel
type Dispatcher struct {
	next    Notifier
	logger  *logrus.Logger
	timeout time.Duration
	inbox   chan Event
	done    chan struct{}
}

// NewDispatcher buffers up to buf events in front of next
func NewDispatcher(next Notifier, logger *logrus.Logger, buf int) *Dispatcher {
	return &Dispatcher{
		next:    next,
		logger:  logger,
		timeout: 10 * time.Second,
		inbox:   make(chan Event, buf),
		done:    make(chan struct{}),
	}
}

// Notify enqueues event and drops it when the queue is full
func (d *Dispatcher) Notify(ctx context.Context, event Event) error {
	select {
	case d.inbox <- event:
	default:
		d.logger.WithFields(logrus.Fields{
			"event":     event.Type,
			"reference": event.Reference,
		}).Warn("Notification queue full, dropping event")
	}
	return nil
}

// Run delivers queued events until ctx is done, then flushes what is left
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-d.inbox:
					d.deliver(ev)
				default:
					return nil
				}
			}
		case ev := <-d.inbox:
			d.deliver(ev)
		}
	}
}

// Wait blocks until Run has returned
func (d *Dispatcher) Wait() {
	<-d.done
}

func (d *Dispatcher) deliver(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.next.Notify(ctx, ev); err != nil {
		d.logger.WithError(err).WithFields(logrus.Fields{
			"event":     ev.Type,
			"reference": ev.Reference,
		}).Error("Failed to deliver reservation event")
	}
}
