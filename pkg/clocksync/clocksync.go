// Package clocksync implements the node's clock sync component (C1): it
// maintains an offset mapping local monotonic time to server-anchored
// wall time, resynced on a fixed cadence.
package clocksync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrUnsynced is returned by Sync on transport error or timeout. The
// previously-held offset, if any, remains valid — a failed sync is never
// fatal (spec.md §4.1).
var ErrUnsynced = errors.New("clocksync: unsynced time")

// ResyncPeriod is the fixed cadence for best-effort periodic resync.
const ResyncPeriod = time.Hour

// TimeSource is the external time authority consulted by Sync. An
// implementation talks to the show server (or any service returning a
// Unix-epoch millisecond timestamp); spec.md §1 treats the transport as a
// reliable request/response channel out of scope here.
type TimeSource interface {
	Now(ctx context.Context) (serverUnixMS int64, err error)
}

// Syncer owns the node's single authoritative clock offset. Replacement is
// atomic with respect to readers: Offset is read under the same RWMutex
// Sync writes under, and no lock is ever held across a suspension point.
type Syncer struct {
	source TimeSource
	log    logrus.FieldLogger

	// onResult, if set, is called once per Sync attempt with whether it
	// succeeded and the offset in effect afterwards. Wired by
	// cmd/node to diagnostics.Diagnostics' ClockOffsetMS/
	// ClockResyncFailures series, the same onAttempt hook shape
	// pkg/fetcher uses to report to diagnostics.
	onResult func(ok bool, offsetMS int64)

	mu      sync.RWMutex
	offset  int64
	hasSync bool
}

func New(source TimeSource, log logrus.FieldLogger) *Syncer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Syncer{source: source, log: log}
}

// OnResult installs a callback invoked after every Sync attempt.
func (s *Syncer) OnResult(f func(ok bool, offsetMS int64)) {
	s.onResult = f
}

// Sync consults the TimeSource once and, on success, records
// offset = server_ms - local_monotonic_ms_at_receipt + RTT/2. On failure
// it returns ErrUnsynced and leaves any previously-held offset untouched.
func (s *Syncer) Sync(ctx context.Context) error {
	sent := time.Now()
	serverMS, err := s.source.Now(ctx)
	if err != nil {
		s.log.WithError(err).Warn("clock sync failed, keeping previous offset")
		if s.onResult != nil {
			prev, _ := s.Offset()
			s.onResult(false, prev)
		}
		return ErrUnsynced
	}
	received := time.Now()
	rtt := received.Sub(sent)
	localAtReceipt := monotonicMS(received)

	offset := serverMS - localAtReceipt + rtt.Milliseconds()/2

	s.mu.Lock()
	s.offset = offset
	s.hasSync = true
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"offset_ms": offset,
		"rtt_ms":    rtt.Milliseconds(),
	}).Debug("clock sync succeeded")
	if s.onResult != nil {
		s.onResult(true, offset)
	}
	return nil
}

// NowWallMS returns the node's current estimate of server wall time, or
// ok=false if Sync has never succeeded — the "not yet synced" sentinel
// callers must treat as "take no action this tick" (spec.md §4.1).
func (s *Syncer) NowWallMS() (wallMS int64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasSync {
		return 0, false
	}
	return monotonicMS(time.Now()) + s.offset, true
}

// Offset returns the currently held offset and whether one has ever been
// established, for diagnostics.
func (s *Syncer) Offset() (offsetMS int64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset, s.hasSync
}

// Run drives the sync lifecycle: it retries the initial sync until it
// first succeeds, then resyncs on ResyncPeriod until ctx is cancelled.
// Cancellation is cooperative — Run checks ctx.Done() between attempts and
// exits at its next suspension point, never forcibly (spec.md §5).
func (s *Syncer) Run(ctx context.Context, initialRetry time.Duration) {
	for {
		if err := s.Sync(ctx); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialRetry):
		}
	}

	ticker := time.NewTicker(ResyncPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Sync(ctx) // best-effort; failure already logged in Sync
		}
	}
}

// processStart anchors the node's local millisecond clock.
var processStart = time.Now()

// monotonicMS is a thin wrapper over time.Now's monotonic reading,
// expressed in the node's local millisecond clock (milliseconds since
// processStart). time.Time retains a monotonic component when constructed
// via time.Now, so t.Sub uses it and stays correct across a wall-clock step.
func monotonicMS(t time.Time) int64 {
	return t.Sub(processStart).Milliseconds()
}
