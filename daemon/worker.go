package daemon

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kilobyte-labs/funnyprint/wire"
)

const queueCapacity = 64

// PrintFunc drives one BLE print session; production wiring points
// this at funnyprint.Print, but it is pluggable so the worker can be
// exercised in tests without a Bluetooth adapter.
type PrintFunc func(ctx context.Context, address string, density uint8, lines []wire.PackedLine) error

// ErrQueueFull is returned by Enqueue when the worker's channel is at
// capacity or the worker has been stopped.
var ErrQueueFull = errors.New("daemon: job queue is full")

// Worker serializes print jobs through a single BLE session at a
// time — exactly one job is ever Printing, matching the single BLE
// radio's capacity.
type Worker struct {
	store  *Store
	print  PrintFunc
	queue  chan string
	closed chan struct{}
}

func NewWorker(store *Store, print PrintFunc) *Worker {
	return &Worker{
		store:  store,
		print:  print,
		queue:  make(chan string, queueCapacity),
		closed: make(chan struct{}),
	}
}

// Enqueue publishes jobID for the worker to pick up. Non-blocking:
// returns ErrQueueFull immediately if the channel is full or the
// worker has been stopped, so callers can answer with
// service-unavailable rather than hang.
func (w *Worker) Enqueue(jobID string) error {
	select {
	case <-w.closed:
		return ErrQueueFull
	default:
	}
	select {
	case w.queue <- jobID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run drains the queue until ctx is canceled, processing one job at
// a time.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-w.queue:
			w.process(ctx, id)
		}
	}
}

// Stop marks the worker closed; further Enqueue calls fail fast.
func (w *Worker) Stop() {
	close(w.closed)
}

func (w *Worker) process(ctx context.Context, id string) {
	sm := newJobFSM(w.store, id)

	job, ok := w.store.GetJob(id)
	if !ok {
		slog.ErrorContext(ctx, "worker: job vanished from store", "job_id", id)
		return
	}

	if err := sm.Event(ctx, jobEvtStart); err != nil {
		slog.ErrorContext(ctx, "worker: invalid job transition", "job_id", id, "error", err)
		return
	}

	render, ok := w.store.GetRender(job.RenderID)
	if !ok {
		_ = sm.Event(ctx, jobEvtFail, "render not found: "+job.RenderID)
		return
	}

	if err := w.print(ctx, job.Address, job.Density, render.Lines); err != nil {
		_ = sm.Event(ctx, jobEvtFail, err.Error())
		return
	}
	_ = sm.Event(ctx, jobEvtComplete)
}
