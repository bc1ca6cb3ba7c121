package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mlexpertio/neuromind/internal/protocol"
)

// outbox hands a turn's events to its sink from a separate goroutine, so a
// slow consumer never holds up the model drain, the commit or the thread
// lock. The queue is unbounded; a turn emits a finite number of events.
type outbox struct {
	sink Sink
	log  *slog.Logger

	mu     sync.Mutex
	queue  []protocol.Event
	closed bool

	wake chan struct{}
	done chan struct{}
}

func newOutbox(ctx context.Context, sink Sink, log *slog.Logger) *outbox {
	o := &outbox{
		sink: sink,
		log:  log,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go o.run(ctx)
	return o
}

func (o *outbox) push(ev protocol.Event) {
	o.mu.Lock()
	o.queue = append(o.queue, ev)
	o.mu.Unlock()
	o.signal()
}

// close stops accepting events and waits until the sink has seen every
// queued event or was detached.
func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.signal()
	<-o.done
}

func (o *outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox) run(ctx context.Context) {
	defer close(o.done)
	for {
		o.mu.Lock()
		batch, closed := o.queue, o.closed
		o.queue = nil
		o.mu.Unlock()

		for _, ev := range batch {
			o.deliver(ctx, ev)
		}
		if closed {
			return
		}
		<-o.wake
	}
}

func (o *outbox) deliver(ctx context.Context, ev protocol.Event) {
	if o.sink == nil {
		return
	}
	err := ctx.Err()
	if err == nil {
		err = o.sink.Send(ev)
	}
	if err != nil {
		o.log.Debug("consumer gone, detaching sink", "err", err)
		o.sink = nil
	}
}
