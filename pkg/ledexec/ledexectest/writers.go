// Package ledexectest provides StripWriter fakes for testing the LED
// executor and its callers without a physical strip.
package ledexectest

import (
	"context"
	"sync"

	"github.com/simeonmiteff/lumenshow/pkg/show"
)

// Recording captures every frame written, in order, for assertions against
// I1 (emission-time bound) and I2 (ordering).
type Recording struct {
	mu     sync.Mutex
	frames []show.RGB
}

func (r *Recording) WriteFrame(_ context.Context, c show.RGB) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, c)
	return nil
}

// Frames returns a snapshot of all frames written so far.
func (r *Recording) Frames() []show.RGB {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]show.RGB, len(r.frames))
	copy(out, r.frames)
	return out
}

// Null discards every frame. Used when a node has no physical strip
// attached (e.g. a dry-run or the server-side test harness).
type Null struct{}

func (Null) WriteFrame(context.Context, show.RGB) error { return nil }
