package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls emitter buffering behavior.
type Config struct {
	BufferSize int
	DropIfFull bool
}

// Emitter asynchronously forwards audit records to a sink.
//
// A nil *Emitter is valid and drops everything, so callers never need to
// guard the disabled case.
type Emitter struct {
	cfg       Config
	sink      Sink
	ch        chan Record
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewEmitter(cfg Config, sink Sink) *Emitter {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	e := &Emitter{
		cfg:  cfg,
		sink: sink,
		ch:   make(chan Record, cfg.BufferSize),
		done: make(chan struct{}),
	}

	e.wg.Add(1)
	go e.run()

	return e
}

func (e *Emitter) run() {
	defer e.wg.Done()

	for {
		select {
		case rec := <-e.ch:
			e.sink.Emit(context.Background(), rec)
		case <-e.done:
			for {
				select {
				case rec := <-e.ch:
					e.sink.Emit(context.Background(), rec)
				default:
					return
				}
			}
		}
	}
}

// Emit queues a record for relay. With DropIfFull the call never blocks and
// full buffers count drops; otherwise it blocks until queued, the context
// ends, or the emitter closes.
func (e *Emitter) Emit(ctx context.Context, rec Record) {
	if e == nil || e.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if e.cfg.DropIfFull {
		select {
		case e.ch <- rec:
		case <-e.done:
		default:
			e.dropped.Add(1)
		}
		return
	}

	select {
	case e.ch <- rec:
	case <-ctx.Done():
	case <-e.done:
	}
}

// Close drains buffered records into the sink and stops the relay goroutine.
func (e *Emitter) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
		e.wg.Wait()
	})
}

// Dropped reports how many records were discarded due to backpressure.
func (e *Emitter) Dropped() uint64 {
	if e == nil {
		return 0
	}
	return e.dropped.Load()
}
