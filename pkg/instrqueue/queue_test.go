package instrqueue

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/simeonmiteff/lumenshow/pkg/show"
)

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestTakeNextEmitsWithinWindow(t *testing.T) {
	q := New(discardLogger())
	q.Enqueue([]show.Instruction{{TimestampMS: 1000, Color: show.RGB{R: 1}}})

	d := q.TakeNext(1000 - Window.Milliseconds())
	require.Equal(t, DecisionEmit, d.Kind)
}

func TestTakeNextSleepsJustOutsideWindow(t *testing.T) {
	q := New(discardLogger())
	q.Enqueue([]show.Instruction{{TimestampMS: 1000, Color: show.RGB{R: 1}}})

	d := q.TakeNext(1000 - Window.Milliseconds() - 1)
	require.Equal(t, DecisionSleep, d.Kind)
}

func TestTakeNextDropsLateJustOutsideWindow(t *testing.T) {
	q := New(discardLogger())
	q.Enqueue([]show.Instruction{{TimestampMS: 1000, Color: show.RGB{R: 1}}})

	d := q.TakeNext(1000 + Window.Milliseconds() + 1)
	require.Equal(t, DecisionDropLate, d.Kind)
	require.Equal(t, uint64(1), q.LateDropCount())
}

func TestTakeNextEmptyQueueSleeps(t *testing.T) {
	q := New(discardLogger())
	d := q.TakeNext(0)
	require.Equal(t, DecisionSleep, d.Kind)
}

func TestEnqueueOrdersByTimestampThenInsertion(t *testing.T) {
	q := New(discardLogger())
	q.Enqueue([]show.Instruction{
		{TimestampMS: 200, Color: show.RGB{R: 2}},
		{TimestampMS: 100, Color: show.RGB{R: 1}},
		{TimestampMS: 100, Color: show.RGB{R: 3}},
	})

	first := q.TakeNext(100)
	require.Equal(t, DecisionEmit, first.Kind)
	require.Equal(t, show.RGB{R: 1}, first.Color)

	second := q.TakeNext(100)
	require.Equal(t, DecisionEmit, second.Kind)
	require.Equal(t, show.RGB{R: 3}, second.Color)
}

func TestEnqueueIsIdempotentByValue(t *testing.T) {
	q := New(discardLogger())
	inst := show.Instruction{TimestampMS: 100, Color: show.RGB{R: 9}}
	q.Enqueue([]show.Instruction{inst})
	q.Enqueue([]show.Instruction{inst})
	require.Equal(t, 1, q.Len())
}

func TestEnqueueOverflowTruncatesBatch(t *testing.T) {
	q := New(discardLogger())
	batch := make([]show.Instruction, MaxQueued)
	for i := range batch {
		batch[i] = show.Instruction{TimestampMS: uint64(i)}
	}
	q.Enqueue(batch)
	require.Equal(t, MaxQueued, q.Len())

	q.Enqueue([]show.Instruction{{TimestampMS: 999999}})
	require.Equal(t, MaxQueued, q.Len())
	require.Equal(t, uint64(1), q.OverflowCount())
}

func TestFlushClearsQueue(t *testing.T) {
	q := New(discardLogger())
	q.Enqueue([]show.Instruction{{TimestampMS: 1}})
	q.Flush()
	require.Equal(t, 0, q.Len())
}

// TestRoundTripPagingReconstructsContiguousExtraction is I4: a show queried
// window-by-window the way pkg/fetcher pages (from = timestamp of the last
// instruction returned), with each batch enqueued as the fetcher would,
// yields exactly the instruction sequence show.Extract would produce over
// [0, duration) in one contiguous, non-overlapping pass. show.Extract's
// paging repeats the boundary instruction across adjacent windows (the next
// query's "from" equals the last timestamp already returned); that repeat
// is absorbed by Enqueue's by-value idempotence (I5) rather than surfacing
// as a duplicate in the queue.
func TestRoundTripPagingReconstructsContiguousExtraction(t *testing.T) {
	s := &show.Show{Frames: []show.Frame{
		{Timestamp: 0, Lasers: []*show.Laser{{Enable: true, Hex: [3]byte{255, 0, 0}}}},
		{Timestamp: 3000, Lasers: []*show.Laser{{Enable: true, Hex: [3]byte{0, 255, 0}}}},
		{Timestamp: 6000, Lasers: []*show.Laser{{Enable: true, Hex: [3]byte{0, 0, 255}}}},
		{Timestamp: 9000, Lasers: []*show.Laser{{Enable: false}}},
	}}

	// Ground truth: a single contiguous extraction covering every frame,
	// assembled from successive non-overlapping 5s windows.
	w0, _ := show.Extract(s, 0)    // [0, 5000): frames 0, 3000
	w1, _ := show.Extract(s, 5000) // [5000, 10000): frames 6000, 9000
	want := append(append([]show.Instruction{}, w0...), w1...)
	require.Len(t, want, 4)

	q := New(discardLogger())
	from := uint64(0)
	for i := 0; i < 20; i++ {
		batch, next := show.Extract(s, from)
		q.Enqueue(batch)
		from = next
	}
	require.Equal(t, len(want), q.Len())

	var got []show.Instruction
	for _, exp := range want {
		d := q.TakeNext(int64(exp.TimestampMS))
		require.Equal(t, DecisionEmit, d.Kind)
		got = append(got, show.Instruction{TimestampMS: exp.TimestampMS, Color: d.Color, Off: d.Off})
	}
	require.Equal(t, want, got)
	require.Equal(t, 0, q.Len())
}
