package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/filing-summary/internal/model"
)

// ProgressFunc receives progress events for one listener.
type ProgressFunc func(model.ProgressEvent)

// Emitter fans progress events out to registered listeners. Each listener
// owns a delivery goroutine draining a channel, so one slow listener cannot
// reorder or interleave another's events: per listener, delivery order is
// exactly emission order.
type Emitter struct {
	start time.Time

	mu      sync.Mutex
	subs    []*subscriber
	stage   model.ProgressStage
	message string
	closed  bool
	wg      sync.WaitGroup
}

type subscriber struct {
	ch chan model.ProgressEvent
}

// NewEmitter creates an Emitter anchored at the current time.
func NewEmitter() *Emitter {
	return &Emitter{start: time.Now(), stage: model.StageQueued}
}

// Subscribe registers a listener. Must be called before the run starts.
func (e *Emitter) Subscribe(fn ProgressFunc) {
	sub := &subscriber{ch: make(chan model.ProgressEvent, 64)}

	e.mu.Lock()
	e.subs = append(e.subs, sub)
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for ev := range sub.ch {
			fn(ev)
		}
	}()
}

// Emit records a stage transition and delivers it to every listener.
func (e *Emitter) Emit(stage model.ProgressStage, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.stage = stage
	e.message = message
	e.deliver(model.ProgressEvent{
		Stage:          stage,
		Message:        message,
		ElapsedSeconds: time.Since(e.start).Seconds(),
	})
}

// deliver sends to all listeners. Caller holds e.mu, which is what makes the
// per-listener ordering guarantee hold across concurrent emitters.
func (e *Emitter) deliver(ev model.ProgressEvent) {
	for _, sub := range e.subs {
		select {
		case sub.ch <- ev:
		default:
			// A listener 64 events behind forfeits heartbeats rather than
			// stalling the pipeline. Stage transitions are rare enough that
			// the buffer only ever sheds heartbeat noise.
			if !ev.Heartbeat {
				sub.ch <- ev
			} else {
				zap.L().Debug("progress: dropped heartbeat for slow listener")
			}
		}
	}
}

// StartHeartbeat launches a goroutine that re-emits the current stage as a
// heartbeat at the given interval, so listeners can distinguish a
// long-running stage from a hung one. Stops when ctx is done.
func (e *Emitter) StartHeartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.mu.Lock()
				if e.closed {
					e.mu.Unlock()
					return
				}
				e.deliver(model.ProgressEvent{
					Stage:          e.stage,
					Message:        e.message,
					ElapsedSeconds: time.Since(e.start).Seconds(),
					Heartbeat:      true,
				})
				e.mu.Unlock()
			}
		}
	}()
}

// Close stops delivery and waits for in-flight events to drain.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for _, sub := range e.subs {
		close(sub.ch)
	}
	e.mu.Unlock()
	e.wg.Wait()
}
