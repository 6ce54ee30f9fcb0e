// Package showstore holds the show server's single process-wide show and
// playback state (C5): the currently uploaded show, the declared start
// timestamp, and the is-playing flag.
package showstore

import (
	"errors"
	"sync"
	"time"

	"github.com/simeonmiteff/lumenshow/pkg/show"
)

// ErrNoShow is returned by Start when no show has been uploaded yet.
var ErrNoShow = errors.New("showstore: no show uploaded")

// Status is the read-only snapshot returned by Store.Status.
type Status struct {
	Name         string
	FrameCount   int
	UploadWallMS int64
	StartWallMS  int64 // 0 if not playing
	IsPlaying    bool
	ElapsedMS    int64 // only meaningful if IsPlaying
}

// Store is the single read-write-lock-guarded holder of the current show
// and playback state. Readers (status, instruction queries) never block
// each other; writers (upload, start) are rare and human-triggered
// (spec.md §4.5, §5).
type Store struct {
	mu sync.RWMutex

	current      *show.Show
	uploadWallMS int64
	startWallMS  int64 // 0 means unset
	isPlaying    bool

	now func() time.Time // overridable for tests
}

func New() *Store {
	return &Store{now: time.Now}
}

// Upload replaces any current show, sets UploadWallMS to now, clears
// StartWallMS and sets IsPlaying false (spec.md §4.5).
func (s *Store) Upload(sh *show.Show) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = sh
	s.uploadWallMS = s.now().UnixMilli()
	s.startWallMS = 0
	s.isPlaying = false
}

// Start requires a show to already be uploaded; it sets
// StartWallMS = now + delayMS and IsPlaying = true. Calling Start twice
// with an identical effective start time is a no-op (idempotent per
// spec.md §4.5); calling it again with a later effective start time moves
// the start forward, while a call whose effective start is earlier than
// the current one is a no-op — start_wall_ms is never rewound, per the
// data model invariant "once set it is never rewound".
func (s *Store) Start(delayMS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoShow
	}
	effective := s.now().UnixMilli() + delayMS
	if s.isPlaying && effective == s.startWallMS {
		return nil
	}
	if s.isPlaying && effective < s.startWallMS {
		// never rewind an already-declared start
		return nil
	}
	s.startWallMS = effective
	s.isPlaying = true
	return nil
}

// Status returns a point-in-time snapshot of name, upload time, start
// time (if any), elapsed-since-start (if playing), and frame count.
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		UploadWallMS: s.uploadWallMS,
		StartWallMS:  s.startWallMS,
		IsPlaying:    s.isPlaying,
	}
	if s.current != nil {
		st.Name = s.current.Name
		st.FrameCount = len(s.current.Frames)
	}
	if s.isPlaying {
		st.ElapsedMS = s.now().UnixMilli() - s.startWallMS
		if st.ElapsedMS < 0 {
			st.ElapsedMS = 0
		}
	}
	return st
}

// Instructions answers an instruction query for deviceID over
// [from, from+show.Window): it returns the instructions, the server's
// current start_wall_ms (0 if not playing, linearizable with respect to a
// prior successful Start per spec.md §5), and the next from a caller
// should use to page forward.
//
// Unknown or non-LED device kinds receive an empty list and
// show_start_time=0, never an error — spec.md §6.1: "Unknown device id →
// empty instruction list with show_start_time = 0; never a 4xx."
func (s *Store) Instructions(deviceID string, from uint64) (instructions []show.Instruction, startWallMS int64, nextFrom uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kind, ok := show.ParseDeviceKind(deviceID)
	if !ok || kind != deviceKindPrefix {
		return nil, 0, from
	}
	if s.isPlaying {
		startWallMS = s.startWallMS
	}
	if s.current == nil {
		return nil, startWallMS, from
	}
	instructions, nextFrom = show.Extract(s.current, from)
	return instructions, startWallMS, nextFrom
}

// deviceKindPrefix is the device-id kind prefix this core answers queries
// for (spec.md §3's example "esp32-light-1" addresses an esp32-kind
// device; any other kind gets an empty instruction list and a warning
// logged by the HTTP layer).
const deviceKindPrefix = "esp32"
