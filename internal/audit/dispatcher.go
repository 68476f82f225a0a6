package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Dispatcher relays events to a Sink from a buffered channel so that hot
// auth paths never block on sink I/O. With DropIfFull the dispatcher counts
// discarded events instead of blocking.
type Dispatcher struct {
	sink       Sink
	ch         chan Event
	done       chan struct{}
	wg         sync.WaitGroup
	dropIfFull bool
	dropped    atomic.Uint64
	closed     atomic.Bool
	closeOnce  sync.Once
}

func NewDispatcher(sink Sink, buffer int, dropIfFull bool) *Dispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:       sink,
		ch:         make(chan Event, buffer),
		done:       make(chan struct{}),
		dropIfFull: dropIfFull,
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.sink.Emit(context.Background(), event)
		case <-d.done:
			// Drain whatever is already buffered before exiting.
			for {
				select {
				case event := <-d.ch:
					d.sink.Emit(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.dropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-d.done:
	case <-ctx.Done():
		d.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded due to backpressure.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Close stops the dispatcher after draining buffered events.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}
