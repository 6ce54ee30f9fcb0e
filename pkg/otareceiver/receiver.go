// Package otareceiver implements the node's OTA receiver (C8): it
// reassembles firmware chunks out of order, verifies per-chunk CRC32,
// writes to the inactive partition, and atomically swaps on completion.
package otareceiver

import (
	"errors"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/lumenshow/pkg/otareceiver/partition"
)

// State is the receiver's lifecycle, expressed as a runtime tagged union
// per spec.md §9's redesign note (prefer exhaustive runtime enums over
// compile-time state types here; the one distinction reserved for the
// compiler is partitionWriter's nilness — see Receiver).
type State int

const (
	StateIdle State = iota
	StateReceiving
	StateReadyToApply
	StateRebooting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReceiving:
		return "receiving"
	case StateReadyToApply:
		return "ready_to_apply"
	case StateRebooting:
		return "rebooting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	// ErrVersionConflict is returned by Start when already Receiving a
	// different version (spec.md §4.8).
	ErrVersionConflict = errors.New("otareceiver: already receiving a different version")
	// ErrWrongState is returned when an input isn't valid for the current
	// state (spec.md §4.8's state table).
	ErrWrongState = errors.New("otareceiver: input not valid in current state")
	// ErrSequenceOutOfRange is returned for a chunk whose sequence equals
	// or exceeds TotalChunks (spec.md §8 boundary behavior).
	ErrSequenceOutOfRange = errors.New("otareceiver: sequence out of range")
)

// Chunk is one firmware chunk as carried by the node-internal protocol
// (spec.md §6.2).
type Chunk struct {
	Sequence    uint32
	TotalChunks uint32
	Version     string
	Data        []byte
	CRC32       uint32
}

// ChunkSize is the fixed chunk size; only the last chunk may be shorter
// (spec.md §3, Firmware image).
const ChunkSize = 4096

// Receiver owns the node's OTA session state. One Receiver lives for the
// whole process: Start initialises a fresh session's fields, and Reset
// clears them back to Idle. It is safe for concurrent use: the ota task is
// the only writer, but MissingChunks/State may be called from other
// goroutines concurrently.
type Receiver struct {
	slots *partition.Slots
	log   logrus.FieldLogger

	// onChunkWritten/onChunkDiscarded, if set, are called on every chunk
	// written to the partition and every chunk discarded for a given
	// reason ("crc", "version", "range"), respectively. Wired by cmd/node
	// to diagnostics.Diagnostics' OTAChunksWritten/OTAChunksDiscarded
	// series.
	onChunkWritten   func()
	onChunkDiscarded func(reason string)

	mu              sync.Mutex
	state           State
	sessionID       string
	version         string
	totalChunks     uint32
	firmwareSize    int64
	nextExpectedSeq uint32
	buffer          map[uint32]Chunk
	writer          *partition.Writer // set by Start; cleared on failure and by Reset
	written         int64
}

func New(slots *partition.Slots, log logrus.FieldLogger) *Receiver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Receiver{slots: slots, log: log, state: StateIdle}
}

// OnChunkWritten installs a callback invoked every time a chunk is written
// to the partition (in sequence order, including chunks drained from the
// out-of-order buffer).
func (r *Receiver) OnChunkWritten(f func()) { r.onChunkWritten = f }

// OnChunkDiscarded installs a callback invoked every time a chunk is
// discarded, with reason one of "crc", "version", or "range".
func (r *Receiver) OnChunkDiscarded(f func(reason string)) { r.onChunkDiscarded = f }

// Start handles OtaStart: (version, total_chunks, firmware_size). Rejected
// with ErrVersionConflict if already Receiving a different version;
// accepting an OtaStart for the same in-flight version is treated as a
// resend and is a no-op. On fresh accept it erases the inactive partition,
// allocates the reassembly buffer, and sets next_expected_seq = 0.
func (r *Receiver) Start(version string, totalChunks uint32, firmwareSize int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateReceiving {
		if r.version != version {
			return ErrVersionConflict
		}
		return nil // resend of the same in-flight session
	}
	if r.state != StateIdle && r.state != StateFailed {
		return fmt.Errorf("%w: state=%s", ErrWrongState, r.state)
	}

	w, err := r.slots.OpenInactiveForWrite(firmwareSize)
	if err != nil {
		r.state = StateFailed
		return fmt.Errorf("otareceiver: start: %w", err)
	}

	r.sessionID = xid.New().String()
	r.version = version
	r.totalChunks = totalChunks
	r.firmwareSize = firmwareSize
	r.nextExpectedSeq = 0
	r.buffer = make(map[uint32]Chunk)
	r.writer = w
	r.written = 0
	r.state = StateReceiving

	r.log.WithFields(logrus.Fields{
		"session":      r.sessionID,
		"version":      version,
		"total_chunks": totalChunks,
	}).Info("ota session started")
	return nil
}

// Chunk handles one arriving chunk per spec.md §4.8's ordered rules.
// CRC and version mismatches are discarded silently (no state change,
// Integrity error class per spec.md §7); they do not take the receiver
// out of Receiving. A write error transitions to Failed.
func (r *Receiver) Chunk(c Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateReceiving {
		return fmt.Errorf("%w: state=%s", ErrWrongState, r.state)
	}
	if c.Sequence >= r.totalChunks {
		r.log.WithField("sequence", c.Sequence).Warn("ota chunk sequence out of range, discarding")
		if r.onChunkDiscarded != nil {
			r.onChunkDiscarded("range")
		}
		return ErrSequenceOutOfRange
	}
	if crc32.ChecksumIEEE(c.Data) != c.CRC32 {
		r.log.WithField("sequence", c.Sequence).Warn("ota chunk CRC mismatch, discarding")
		if r.onChunkDiscarded != nil {
			r.onChunkDiscarded("crc")
		}
		return nil
	}
	if c.Version != r.version {
		r.log.WithFields(logrus.Fields{"sequence": c.Sequence, "got_version": c.Version}).
			Warn("ota chunk version mismatch, discarding")
		if r.onChunkDiscarded != nil {
			r.onChunkDiscarded("version")
		}
		return nil
	}

	if c.Sequence < r.nextExpectedSeq {
		return nil // duplicate
	}
	if c.Sequence > r.nextExpectedSeq {
		r.buffer[c.Sequence] = c
		return nil
	}

	if err := r.writeChunkLocked(c); err != nil {
		return r.failLocked(err)
	}
	r.drainBufferLocked()

	if r.nextExpectedSeq == r.totalChunks {
		return r.finalizeLocked()
	}
	return nil
}

func (r *Receiver) writeChunkLocked(c Chunk) error {
	offset := int64(c.Sequence) * ChunkSize
	if err := r.writer.WriteAt(c.Data, offset); err != nil {
		return err
	}
	r.written += int64(len(c.Data))
	r.nextExpectedSeq++
	if r.onChunkWritten != nil {
		r.onChunkWritten()
	}
	return nil
}

// drainBufferLocked writes any contiguous run of previously-buffered
// chunks starting at next_expected_seq (spec.md §4.8, §8 scenario 5).
func (r *Receiver) drainBufferLocked() {
	for {
		c, ok := r.buffer[r.nextExpectedSeq]
		if !ok {
			return
		}
		delete(r.buffer, r.nextExpectedSeq)
		if err := r.writeChunkLocked(c); err != nil {
			r.failLocked(err)
			return
		}
	}
}

// finalizeLocked validates the image, commits the partition swap, and
// transitions to ReadyToApply (spec.md §4.8 Completion).
func (r *Receiver) finalizeLocked() error {
	if r.firmwareSize > 0 && r.written > r.firmwareSize {
		return r.failLocked(fmt.Errorf("otareceiver: written %d exceeds declared size %d", r.written, r.firmwareSize))
	}
	if err := r.writer.Commit(); err != nil {
		return r.failLocked(err)
	}
	r.state = StateReadyToApply
	r.log.WithFields(logrus.Fields{
		"session": r.sessionID,
		"version": r.version,
	}).Info("ota image ready to apply")
	return nil
}

func (r *Receiver) failLocked(cause error) error {
	if r.writer != nil {
		_ = r.writer.Abort()
		r.writer = nil
	}
	r.state = StateFailed
	r.log.WithError(cause).WithField("session", r.sessionID).Error("ota session failed")
	return cause
}

// Reboot handles OtaReboot: only valid from ReadyToApply, transitions to
// Rebooting. The actual reboot (exiting firmware, spec.md §4.8) is outside
// this package's scope; callers perform it after Reboot returns nil.
func (r *Receiver) Reboot() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateReadyToApply {
		return fmt.Errorf("%w: state=%s", ErrWrongState, r.state)
	}
	r.state = StateRebooting
	return nil
}

// Reset returns the receiver to Idle from Failed, per an explicit operator
// action (spec.md §4.8's Failed row).
func (r *Receiver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateIdle
	r.sessionID = ""
	r.version = ""
	r.buffer = nil
	r.writer = nil
}

// State reports the current lifecycle state.
func (r *Receiver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// MissingChunks returns the set {s : 0<=s<total_chunks, s>=next_expected_seq,
// s not in buffer}, the retransmission request spec.md §4.8 names. The
// wire transport for requesting retransmission is out of scope; this is
// the computation a node would perform to build that request.
func (r *Receiver) MissingChunks() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateReceiving {
		return nil
	}
	var missing []uint32
	for s := r.nextExpectedSeq; s < r.totalChunks; s++ {
		if _, buffered := r.buffer[s]; !buffered {
			missing = append(missing, s)
		}
	}
	return missing
}

// NextExpectedSeq reports the receiver's current contiguous-write
// watermark, for diagnostics and tests.
func (r *Receiver) NextExpectedSeq() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextExpectedSeq
}
