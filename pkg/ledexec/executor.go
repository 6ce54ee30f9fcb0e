// Package ledexec implements the LED executor (C3): it turns instruction
// queue decisions into physical strip writes, applying gamma/brightness
// correction only at the write boundary.
package ledexec

import (
	"context"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/lumenshow/pkg/instrqueue"
	"github.com/simeonmiteff/lumenshow/pkg/show"
)

// StripWriter is the physical LED driver, treated per spec.md §1 as an
// external collaborator: "a write-one-frame sink." Implementations write
// the given color uniformly across the whole strip.
type StripWriter interface {
	WriteFrame(ctx context.Context, c show.RGB) error
}

// Gamma is the fixed gamma-correction exponent applied at the write
// boundary. The queue always stores raw RGB so Enqueue stays idempotent
// by value (spec.md §4.3).
const Gamma = 2.2

// ApplyGamma scales c by brightness in [0,1] and applies Gamma correction,
// returning the value actually written to the strip.
func ApplyGamma(c show.RGB, brightness float64) show.RGB {
	correct := func(v uint8) uint8 {
		normalized := float64(v) / 255.0
		corrected := math.Pow(normalized, Gamma) * brightness
		if corrected < 0 {
			corrected = 0
		}
		if corrected > 1 {
			corrected = 1
		}
		return uint8(corrected*255.0 + 0.5)
	}
	return show.RGB{R: correct(c.R), G: correct(c.G), B: correct(c.B)}
}

// Executor holds the single "current color" for the strip and writes it
// once per transition.
type Executor struct {
	writer     StripWriter
	brightness float64
	log        logrus.FieldLogger

	current show.RGB
	synced  bool // whether current has ever been written
}

// New constructs an Executor with brightness in [0,1].
func New(writer StripWriter, brightness float64, log logrus.FieldLogger) *Executor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Executor{writer: writer, brightness: brightness, log: log}
}

// Apply consumes one queue Decision. Sleep and DropLate never touch the
// strip; Emit writes the gamma-corrected color exactly once. Callers pass
// clockSynced=false when the clock sync component (C1) has never
// succeeded, in which case Apply idles regardless of decision (spec.md
// §4.3's "not yet synced" rule).
func (e *Executor) Apply(ctx context.Context, clockSynced bool, d instrqueue.Decision) error {
	if !clockSynced || d.Kind != instrqueue.DecisionEmit {
		return nil
	}

	next := d.Color
	if d.Off {
		next = show.RGB{}
	}
	written := ApplyGamma(next, e.brightness)

	if err := e.writer.WriteFrame(ctx, written); err != nil {
		e.log.WithError(err).Error("strip write failed")
		return err
	}
	e.current = next
	e.synced = true
	return nil
}

// Current returns the last color emitted (pre-gamma), for diagnostics and
// tests.
func (e *Executor) Current() (show.RGB, bool) {
	return e.current, e.synced
}
