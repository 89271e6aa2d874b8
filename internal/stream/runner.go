package stream

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/rollcall/internal/capture"
)

// Display receives every processed frame together with its emission.
type Display interface {
	Show(frame image.Image, e Emission)
}

// Attendance records that an identity was seen.
type Attendance interface {
	Record(ctx context.Context, identity string, at time.Time, distance float64) error
}

// Observer sees every frame whose face passed the threshold, whether or not
// the debounce window let it through.
type Observer interface {
	Matched(e Emission)
}

// Mode selects which accepted matches reach the Attendance sink.
type Mode string

const (
	// ModeDebounced records only emissions that passed the debounce window.
	ModeDebounced Mode = "debounced"
	// ModeEveryMatch records every accepted match, suppressed or not.
	ModeEveryMatch Mode = "every-match"
)

// Stats counts what the runner has seen so far.
type Stats struct {
	Frames     int
	Processed  int
	WithFace   int
	Matched    int
	Emitted    int
	Recorded   int
	RecordErrs int
}

// Runner owns a frame source for the duration of Run and feeds its frames
// through a Processor one at a time.
type Runner struct {
	source     capture.Source
	proc       *Processor
	display    Display
	attendance Attendance
	observer   Observer
	mode       Mode
	everyNth   int
	now        func() time.Time
	logger     *slog.Logger

	stopped atomic.Bool

	mu    sync.Mutex
	state State
	stats Stats
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

func WithDisplay(d Display) RunnerOption          { return func(r *Runner) { r.display = d } }
func WithAttendance(a Attendance) RunnerOption    { return func(r *Runner) { r.attendance = a } }
func WithObserver(o Observer) RunnerOption        { return func(r *Runner) { r.observer = o } }
func WithMode(m Mode) RunnerOption                { return func(r *Runner) { r.mode = m } }
func WithClock(now func() time.Time) RunnerOption { return func(r *Runner) { r.now = now } }
func WithLogger(l *slog.Logger) RunnerOption      { return func(r *Runner) { r.logger = l } }

// WithEveryNth processes one frame out of every n. Skipped frames are read and dropped.
func WithEveryNth(n int) RunnerOption {
	return func(r *Runner) {
		if n > 1 {
			r.everyNth = n
		}
	}
}

// NewRunner builds a Runner reading from src.
func NewRunner(src capture.Source, proc *Processor, opts ...RunnerOption) *Runner {
	r := &Runner{
		source:   src,
		proc:     proc,
		mode:     ModeDebounced,
		everyNth: 1,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Stop asks Run to return before reading the next frame. Safe from any goroutine.
func (r *Runner) Stop() {
	r.stopped.Store(true)
}

// State returns the current debounce state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Stats returns a snapshot of the counters.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Run opens the source and processes frames until the source ends, Stop is
// called, ctx is cancelled, or an error occurs. The source is closed on every
// exit path. End of stream and Stop return nil; a failed read returns an error
// wrapping capture.ErrFrameUnavailable.
func (r *Runner) Run(ctx context.Context) (err error) {
	if err := r.source.Open(ctx); err != nil {
		r.source.Close()
		return fmt.Errorf("%w: open source: %v", capture.ErrFrameUnavailable, err)
	}
	defer func() {
		if cerr := r.source.Close(); cerr != nil {
			r.logger.Warn("closing frame source failed", "error", cerr)
		}
	}()

	for i := 0; ; i++ {
		if r.stopped.Load() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := r.source.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, capture.ErrFrameUnavailable) {
				return err
			}
			return fmt.Errorf("%w: %v", capture.ErrFrameUnavailable, err)
		}

		r.mu.Lock()
		r.stats.Frames++
		r.mu.Unlock()

		if i%r.everyNth != 0 {
			continue
		}

		if err := r.step(ctx, frame); err != nil {
			// An engine killed by the interrupt fails mid-call; report the interrupt.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
	}
}

// step processes a single frame and dispatches its emission. Decision and
// attendance logging happen inside one call so they never interleave.
func (r *Runner) step(ctx context.Context, frame image.Image) error {
	r.mu.Lock()
	st := r.state
	r.mu.Unlock()

	em, next, err := r.proc.Process(ctx, frame, st, r.now())
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.state = next
	r.stats.Processed++
	if em.Faces > 0 {
		r.stats.WithFace++
	}
	if em.Matched() {
		r.stats.Matched++
	}
	if em.LogAttendance {
		r.stats.Emitted++
	}
	r.mu.Unlock()

	if r.observer != nil && em.Matched() {
		r.observer.Matched(em)
	}

	if r.attendance != nil && r.shouldRecord(em) {
		if err := r.attendance.Record(ctx, em.Identity, em.At, em.Distance); err != nil {
			r.logger.Error("attendance record failed", "identity", em.Identity, "error", err)
			r.mu.Lock()
			r.stats.RecordErrs++
			r.mu.Unlock()
		} else {
			r.mu.Lock()
			r.stats.Recorded++
			r.mu.Unlock()
		}
	}

	if r.display != nil {
		r.display.Show(frame, em)
	}
	return nil
}

func (r *Runner) shouldRecord(em Emission) bool {
	if r.mode == ModeEveryMatch {
		return em.Matched()
	}
	return em.LogAttendance
}
