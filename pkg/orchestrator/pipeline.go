package orchestrator

import (
	"context"
	"time"
)

// DropOldestQueue is a bounded, single-producer/single-consumer queue that
// implements spec.md §4.9's oldest-drop back-pressure policy: when full, the
// oldest queued item is discarded to admit the newest rather than blocking
// the producer. Grounded on the teacher's bounded `events` channel
// (`make(chan OrchestratorEvent, 1024)` with a non-blocking `select
// default:` drop in managed_stream.go.emit), generalized into a reusable
// generic queue.
type DropOldestQueue[T any] struct {
	ch chan T
}

// NewDropOldestQueue builds a queue with the given capacity.
func NewDropOldestQueue[T any](capacity int) *DropOldestQueue[T] {
	return &DropOldestQueue[T]{ch: make(chan T, capacity)}
}

// Push admits v, dropping the oldest queued item first if the queue is full.
// Safe to call from the single producer only.
func (q *DropOldestQueue[T]) Push(v T) {
	for {
		select {
		case q.ch <- v:
			return
		default:
		}
		select {
		case <-q.ch:
		default:
		}
	}
}

// Chan exposes the receive side for the single consumer.
func (q *DropOldestQueue[T]) Chan() <-chan T {
	return q.ch
}

// Close closes the underlying channel. Only the producer should call this,
// after it has stopped calling Push.
func (q *DropOldestQueue[T]) Close() {
	close(q.ch)
}

// RunTicker calls fsm.Tick(clock.NowUTC()) every interval until ctx is
// cancelled, so silence timers advance even when no new transcription
// arrives (spec.md §4.9, task T4 of §5).
func RunTicker(ctx context.Context, interval time.Duration, fsm *ConversationFSM, clock Clock) {
	if clock == nil {
		clock = RealClock{}
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fsm.Tick(clock.NowUTC())
		}
	}
}
