// Package render provides single-flight execution of background render
// jobs. At most one job runs at a time; a submission while one is in
// flight is rejected with ErrBusy, never queued.
package render

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/clipbench/clipbench-agent/internal/logging"
)

// ErrBusy reports a submission while another render is in flight.
var ErrBusy = errors.New("another operation is running")

// ErrPaused reports a submission while rendering is paused from the tray.
var ErrPaused = errors.New("rendering is paused")

// Job is one render unit. Run executes on the worker goroutine and returns
// the rendered artifact path. OnDone, when set, is invoked with the result
// before the runner accepts the next job, so state updates it performs are
// ordered ahead of any subsequent render.
type Job struct {
	OpID      string
	SessionID string
	Kind      string
	Run       func(ctx context.Context) (string, error)
	OnDone    func(Result)
}

// Result is the completion record posted for every finished job.
type Result struct {
	OpID      string
	SessionID string
	Kind      string
	OutPath   string
	Duration  time.Duration
	Err       error
}

// Runner executes jobs one at a time on a worker goroutine.
type Runner struct {
	logger  *slog.Logger
	busy    atomic.Bool
	paused  atomic.Bool
	results chan Result
}

func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{
		logger:  logging.WithComponent(logger, "render"),
		results: make(chan Result, 8),
	}
}

// TrySubmit starts a job on the worker goroutine, or returns ErrBusy when
// one is already in flight. The caller's goroutine never blocks on the
// external process.
func (r *Runner) TrySubmit(ctx context.Context, job Job) error {
	if r.paused.Load() {
		return ErrPaused
	}
	if !r.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}

	log := logging.WithOpID(logging.WithSessionID(r.logger, job.SessionID), job.OpID)
	log.Info("render job started", "kind", job.Kind)

	go func() {
		start := time.Now()
		out, err := job.Run(ctx)
		res := Result{
			OpID:      job.OpID,
			SessionID: job.SessionID,
			Kind:      job.Kind,
			OutPath:   out,
			Duration:  time.Since(start),
			Err:       err,
		}

		if job.OnDone != nil {
			job.OnDone(res)
		}
		r.busy.Store(false)

		if err != nil {
			log.Warn("render job failed", "kind", job.Kind, "error", err)
		} else {
			log.Info("render job completed", "kind", job.Kind, "duration_ms", res.Duration.Milliseconds())
		}

		// Completion event for observers; dropped when nobody listens.
		select {
		case r.results <- res:
		default:
		}
	}()

	return nil
}

// Busy reports whether a render is in flight. Playback of session artifacts
// is refused while this is true.
func (r *Runner) Busy() bool {
	return r.busy.Load()
}

// SetPaused toggles acceptance of new jobs. An in-flight render is not
// interrupted; only future submissions are refused.
func (r *Runner) SetPaused(paused bool) {
	r.paused.Store(paused)
	if paused {
		r.logger.Info("rendering paused")
	} else {
		r.logger.Info("rendering resumed")
	}
}

// Paused reports whether new jobs are being refused.
func (r *Runner) Paused() bool {
	return r.paused.Load()
}

// Results returns the completion event stream.
func (r *Runner) Results() <-chan Result {
	return r.results
}
