// Package instrqueue implements the per-node execution queue (C2): a
// min-heap of pending instructions, classified as due / future / dropped
// late relative to the node's synchronized wall clock.
package instrqueue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/lumenshow/pkg/show"
)

// Window is the execution window spec.md §4.2 allows either side of now:
// an instruction due within ±Window is emitted, outside it is Sleep or
// DropLate.
const Window = 50 * time.Millisecond

const (
	sleepFloor = 10 * time.Millisecond
	sleepCap   = 100 * time.Millisecond
)

// MaxQueued bounds memory per spec.md §4.2. Implementation-defined "in the
// hundreds"; 512 leaves headroom above one 5s window's worth of frames at
// any plausible show frame rate.
const MaxQueued = 512

// Decision is the result of a single TakeNext call.
type Decision struct {
	Kind  DecisionKind
	Sleep time.Duration
	Color show.RGB
	Off   bool
}

type DecisionKind int

const (
	DecisionSleep DecisionKind = iota
	DecisionEmit
	DecisionDropLate
)

type entry struct {
	inst show.Instruction
	seq  uint64 // insertion order, breaks timestamp ties (I2)
}

type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].inst.TimestampMS != h[j].inst.TimestampMS {
		return h[i].inst.TimestampMS < h[j].inst.TimestampMS
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)        { *h = append(*h, x.(entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Queue is the per-node instruction queue. Safe for concurrent use: the
// fetcher task enqueues, the executor task calls TakeNext; both hold the
// same mutex only across the critical section, never across a
// suspension point (spec.md §5).
type Queue struct {
	mu       sync.Mutex
	heap     entryHeap
	nextSeq  uint64
	lateDrop uint64
	overflow uint64
	log      logrus.FieldLogger
}

func New(log logrus.FieldLogger) *Queue {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Queue{log: log}
}

// Enqueue appends a batch, preserving the sorted-by-timestamp heap
// invariant. Duplicates (same timestamp and color as an already-queued
// instruction) are silently ignored so fetcher retries are idempotent (I5).
// On overflow the tail of this batch is truncated and a warning logged;
// earlier-queued instructions are never evicted to make room.
func (q *Queue) Enqueue(batch []show.Instruction) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, inst := range batch {
		if len(q.heap) >= MaxQueued {
			dropped := len(batch) - i
			q.overflow += uint64(dropped)
			q.log.WithFields(logrus.Fields{
				"queue_len": len(q.heap),
				"dropped":   dropped,
			}).Warn("instruction queue overflow, truncating batch")
			return
		}
		if q.containsLocked(inst) {
			continue
		}
		heap.Push(&q.heap, entry{inst: inst, seq: q.nextSeq})
		q.nextSeq++
	}
}

func (q *Queue) containsLocked(inst show.Instruction) bool {
	for _, e := range q.heap {
		if e.inst.Equal(inst) {
			return true
		}
	}
	return false
}

// TakeNext classifies the earliest pending instruction relative to
// nowWallMS, per spec.md §4.2's boundary rules:
//
//   - empty queue, or earliest more than +Window in the future: Sleep for
//     max(0, earliest-now-10ms), capped at 100ms.
//   - earliest within ±Window: Emit, instruction removed.
//   - earliest more than -Window in the past: DropLate, instruction
//     removed, late counter incremented, a short Sleep is also returned so
//     the caller re-polls promptly for any remaining backlog.
func (q *Queue) TakeNext(nowWallMS int64) Decision {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return Decision{Kind: DecisionSleep, Sleep: sleepCap}
	}

	earliest := q.heap[0].inst
	delta := int64(earliest.TimestampMS) - nowWallMS

	switch {
	case delta > Window.Milliseconds():
		d := time.Duration(delta)*time.Millisecond - sleepFloor
		if d < 0 {
			d = 0
		}
		if d > sleepCap {
			d = sleepCap
		}
		return Decision{Kind: DecisionSleep, Sleep: d}
	case delta < -Window.Milliseconds():
		heap.Pop(&q.heap)
		q.lateDrop++
		q.log.WithFields(logrus.Fields{
			"timestamp_ms": earliest.TimestampMS,
			"now_wall_ms":  nowWallMS,
			"late_ms":      -delta,
		}).Warn("dropped late instruction")
		return Decision{Kind: DecisionDropLate, Sleep: sleepFloor}
	default:
		heap.Pop(&q.heap)
		return Decision{Kind: DecisionEmit, Color: earliest.Color, Off: earliest.Off}
	}
}

// Len reports the number of pending instructions, for diagnostics.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// LateDropCount reports the cumulative count of DropLate decisions.
func (q *Queue) LateDropCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lateDrop
}

// OverflowCount reports the cumulative count of instructions discarded to
// bounded-memory truncation.
func (q *Queue) OverflowCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.overflow
}

// Flush discards every pending instruction. Used when the fetcher observes
// the server's show start rewind to zero (spec.md §4.4).
func (q *Queue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.heap = nil
}
