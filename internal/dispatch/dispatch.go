// Package dispatch fans fetched chat events into a single handler
// goroutine. One consumer keeps per-chat ordering intact; a bounded
// queue pushes backpressure onto the fetchers instead of growing without
// limit.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/linego-dev/linego/internal/metrics"
	"github.com/linego-dev/linego/internal/service"
)

const defaultQueueSize = 256

// Handler consumes one event. Panics are contained per event.
type Handler func(ev service.Event)

// Options configures a Dispatcher.
type Options struct {
	Handler   Handler
	QueueSize int
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

// Dispatcher is a bounded single-consumer event queue.
type Dispatcher struct {
	queue   chan service.Event
	handler Handler
	logger  zerolog.Logger
	metrics *metrics.Metrics

	stopOnce sync.Once
	done     chan struct{}
}

// New builds a Dispatcher and starts its consumer.
func New(opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	d := &Dispatcher{
		queue:   make(chan service.Event, opts.QueueSize),
		handler: opts.Handler,
		logger:  opts.Logger.With().Str("component", "dispatch").Logger(),
		metrics: opts.Metrics,
		done:    make(chan struct{}),
	}
	go d.consume()
	return d
}

// Enqueue blocks until the event is queued or ctx ends. Events from one
// producer are delivered in enqueue order.
func (d *Dispatcher) Enqueue(ctx context.Context, ev service.Event) error {
	select {
	case d.queue <- ev:
		d.gauge()
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatch: enqueue: %w", ctx.Err())
	}
}

// Stop closes the queue, drains what is already buffered, and waits for
// the consumer to exit. Producers must be stopped first.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.queue) })
	<-d.done
}

func (d *Dispatcher) consume() {
	defer close(d.done)
	for ev := range d.queue {
		d.gauge()
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev service.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Interface("panic", r).
				Str("chat", ev.ChatMid).
				Int32("type", ev.Type).
				Msg("handler panicked")
		}
	}()
	if d.handler != nil {
		d.handler(ev)
	}
	if d.metrics != nil {
		d.metrics.EventsDispatched.Inc()
	}
}

func (d *Dispatcher) gauge() {
	if d.metrics != nil {
		d.metrics.QueueDepth.Set(float64(len(d.queue)))
	}
}
