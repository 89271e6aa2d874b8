// Package stream turns a sequence of frames into debounced identity decisions.
package stream

import (
	"fmt"
	"time"

	"github.com/andresmejia3/rollcall/internal/match"
	"github.com/andresmejia3/rollcall/internal/types"
)

// Outcome classifies what happened on a single frame.
type Outcome int

const (
	// NoFace means the locator found nothing in the frame.
	NoFace Outcome = iota
	// Accepted is a match that passed the threshold and the debounce window.
	Accepted
	// Suppressed is a match that passed the threshold inside the debounce window.
	Suppressed
	// Rejected means a face was found but nothing in the gallery was close enough.
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case NoFace:
		return "no-face"
	case Accepted:
		return "accepted"
	case Suppressed:
		return "suppressed"
	case Rejected:
		return "rejected"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// State is the debounce state carried from one frame to the next.
// The zero value means nothing has been emitted yet.
type State struct {
	LastEmit time.Time
}

// Result is the per-frame input to Decide.
type Result struct {
	Faces    int // faces located in the frame
	Region   types.Region
	Decision match.Decision
}

// Emission is what a frame produced. Region is set unless Outcome is NoFace;
// Identity and Distance only for Accepted and Suppressed.
type Emission struct {
	Outcome  Outcome
	Faces    int
	Region   types.Region
	Identity string
	Distance float64
	At       time.Time
	// LogAttendance is true exactly when the debounce window allowed a new record.
	LogAttendance bool
}

// Matched reports whether the frame's face passed the threshold.
func (e Emission) Matched() bool {
	return e.Outcome == Accepted || e.Outcome == Suppressed
}

// Confidence is 1 - Distance, unclamped.
func (e Emission) Confidence() float64 {
	return 1 - e.Distance
}

// Label is the overlay text drawn next to the face box.
func (e Emission) Label() string {
	if !e.Matched() {
		return ""
	}
	return fmt.Sprintf("%s (%.2f)", e.Identity, e.Confidence())
}

// Status is the one-line human readable result for the frame.
func (e Emission) Status() string {
	switch e.Outcome {
	case Accepted, Suppressed:
		return fmt.Sprintf("✅ Match: %s (Acc: %.2f)", e.Identity, e.Confidence())
	case Rejected:
		return "❌ No match found"
	case NoFace:
		return "👤 No face detected"
	}
	return ""
}

// Decide applies the debounce rule to one frame's result. It is pure: the new
// state is returned, never stored. An accepted match emits when nothing has
// been emitted yet or when at least interval has elapsed since the last emission.
func Decide(res Result, st State, now time.Time, interval time.Duration) (Emission, State) {
	em := Emission{Faces: res.Faces, At: now}
	if res.Faces == 0 {
		em.Outcome = NoFace
		return em, st
	}

	em.Region = res.Region
	if !res.Decision.Accepted {
		em.Outcome = Rejected
		return em, st
	}

	em.Identity = res.Decision.Identity
	em.Distance = res.Decision.Distance

	if !st.LastEmit.IsZero() && now.Sub(st.LastEmit) < interval {
		em.Outcome = Suppressed
		return em, st
	}

	em.Outcome = Accepted
	em.LogAttendance = true
	return em, State{LastEmit: now}
}
