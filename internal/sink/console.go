// Package sink holds the displays and attendance recorders a stream.Runner reports to.
package sink

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/andresmejia3/rollcall/internal/stream"
)

// LogAttendance records attendance as structured log lines.
type LogAttendance struct {
	Logger *slog.Logger
}

func (l LogAttendance) Record(ctx context.Context, identity string, at time.Time, distance float64) error {
	l.Logger.InfoContext(ctx, "attendance",
		"identity", identity,
		"seen_at", at.Format(time.RFC3339),
		"distance", distance,
		"confidence", 1-distance,
	)
	return nil
}

// MatchLog logs every raw match, suppressed ones included, at debug level.
type MatchLog struct {
	Logger *slog.Logger
}

func (m MatchLog) Matched(e stream.Emission) {
	m.Logger.Debug("match",
		"identity", e.Identity,
		"distance", e.Distance,
		"outcome", e.Outcome.String(),
		"faces", e.Faces,
	)
}

// StatusPrinter writes the one-line status for each frame, skipping repeats
// so a person standing in front of the camera prints once rather than per frame.
type StatusPrinter struct {
	w    io.Writer
	mu   sync.Mutex
	last string
}

func NewStatusPrinter(w io.Writer) *StatusPrinter {
	return &StatusPrinter{w: w}
}

func (p *StatusPrinter) Show(_ image.Image, e stream.Emission) {
	status := e.Status()
	p.mu.Lock()
	defer p.mu.Unlock()
	if status == p.last {
		return
	}
	p.last = status
	if status != "" {
		fmt.Fprintln(p.w, status)
	}
}

// MultiAttendance fans a record out to every sink. All sinks are tried;
// their errors are joined.
type MultiAttendance []stream.Attendance

func (m MultiAttendance) Record(ctx context.Context, identity string, at time.Time, distance float64) error {
	var errs []error
	for _, a := range m {
		if err := a.Record(ctx, identity, at, distance); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MultiDisplay shows each frame on every display in order.
type MultiDisplay []stream.Display

func (m MultiDisplay) Show(frame image.Image, e stream.Emission) {
	for _, d := range m {
		d.Show(frame, e)
	}
}
