package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

var ErrQueueFull = errors.New("notification queue is full")

type Sender interface {
	Name() string
	Send(ctx context.Context, e Event) error
}

// Error is reported on the dispatcher's error channel for every failed send.
type Error struct {
	Sender  string
	OrderID string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("notify %s order=%s: %v", e.Sender, e.OrderID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Dispatcher delivers events to every sender from a single background
// worker. Dispatch never blocks the caller and failures never reach it:
// they are published on Errors() instead.
type Dispatcher struct {
	senders     []Sender
	queue       chan Event
	errs        chan error
	sendTimeout time.Duration

	done chan struct{}
}

func NewDispatcher(queueSize int, senders ...Sender) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Dispatcher{
		senders:     senders,
		queue:       make(chan Event, queueSize),
		errs:        make(chan error, queueSize),
		sendTimeout: 5 * time.Second,
		done:        make(chan struct{}),
	}
}

// Errors returns the channel failed deliveries are reported on. Errors are
// dropped when nobody drains it.
func (d *Dispatcher) Errors() <-chan error { return d.errs }

// Dispatch enqueues the event and reports whether it was accepted.
func (d *Dispatcher) Dispatch(e Event) bool {
	select {
	case d.queue <- e:
		return true
	default:
		d.report(&Error{Sender: "queue", OrderID: e.OrderID, Err: ErrQueueFull})
		return false
	}
}

// Run consumes the queue until ctx is done, then drains what is left.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return
		case e := <-d.queue:
			d.deliver(context.Background(), e)
		}
	}
}

// Wait blocks until Run has returned.
func (d *Dispatcher) Wait() { <-d.done }

func (d *Dispatcher) drain() {
	for {
		select {
		case e := <-d.queue:
			d.deliver(context.Background(), e)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, e Event) {
	for _, s := range d.senders {
		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		err := s.Send(sendCtx, e)
		cancel()
		if err != nil {
			d.report(&Error{Sender: s.Name(), OrderID: e.OrderID, Err: err})
		}
	}
}

func (d *Dispatcher) report(err error) {
	select {
	case d.errs <- err:
	default:
		log.Printf("[notify] error channel full, dropping: %v", err)
	}
}

// LogErrors logs everything reported on Errors() until ctx is done.
func (d *Dispatcher) LogErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-d.errs:
			log.Printf("[notify] %v", err)
		}
	}
}
