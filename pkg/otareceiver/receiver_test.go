package otareceiver

import (
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/simeonmiteff/lumenshow/pkg/otareceiver/partition"
)

func newTestReceiver(t *testing.T) *Receiver {
	slots, err := partition.New(t.TempDir())
	require.NoError(t, err)
	return New(slots, nil)
}

func chunkOf(seq, total uint32, version string, data []byte) Chunk {
	return Chunk{Sequence: seq, TotalChunks: total, Version: version, Data: data, CRC32: crc32.ChecksumIEEE(data)}
}

func TestStartThenChunksInOrderCompletes(t *testing.T) {
	r := newTestReceiver(t)
	require.NoError(t, r.Start("1.2.3", 2, 8))

	require.NoError(t, r.Chunk(chunkOf(0, 2, "1.2.3", []byte("AAAA"))))
	require.Equal(t, StateReceiving, r.State())
	require.NoError(t, r.Chunk(chunkOf(1, 2, "1.2.3", []byte("BBBB"))))
	require.Equal(t, StateReadyToApply, r.State())
}

func TestStartResendSameVersionIsNoOp(t *testing.T) {
	r := newTestReceiver(t)
	require.NoError(t, r.Start("1.2.3", 2, 8))
	require.NoError(t, r.Chunk(chunkOf(0, 2, "1.2.3", []byte("AAAA"))))
	require.NoError(t, r.Start("1.2.3", 2, 8))
	require.Equal(t, uint32(1), r.NextExpectedSeq())
}

func TestStartDifferentVersionWhileReceivingConflicts(t *testing.T) {
	r := newTestReceiver(t)
	require.NoError(t, r.Start("1.2.3", 2, 8))
	err := r.Start("1.2.4", 2, 8)
	require.ErrorIs(t, err, ErrVersionConflict)
}

func TestChunkSequenceOutOfRangeRejected(t *testing.T) {
	r := newTestReceiver(t)
	require.NoError(t, r.Start("1.0.0", 2, 8))
	err := r.Chunk(chunkOf(2, 2, "1.0.0", []byte("AAAA")))
	require.ErrorIs(t, err, ErrSequenceOutOfRange)
}

func TestChunkCRCMismatchDiscardedSilently(t *testing.T) {
	r := newTestReceiver(t)
	require.NoError(t, r.Start("1.0.0", 1, 4))
	bad := chunkOf(0, 1, "1.0.0", []byte("AAAA"))
	bad.CRC32 ^= 0xFF
	require.NoError(t, r.Chunk(bad))
	require.Equal(t, StateReceiving, r.State())
	require.Equal(t, uint32(0), r.NextExpectedSeq())
}

func TestChunkVersionMismatchDiscardedSilently(t *testing.T) {
	r := newTestReceiver(t)
	require.NoError(t, r.Start("1.0.0", 1, 4))
	require.NoError(t, r.Chunk(chunkOf(0, 1, "9.9.9", []byte("AAAA"))))
	require.Equal(t, StateReceiving, r.State())
	require.Equal(t, uint32(0), r.NextExpectedSeq())
}

func TestOutOfOrderChunksBufferAndDrain(t *testing.T) {
	r := newTestReceiver(t)
	require.NoError(t, r.Start("1.0.0", 3, 12))

	require.NoError(t, r.Chunk(chunkOf(2, 3, "1.0.0", []byte("CCCC"))))
	require.Equal(t, uint32(0), r.NextExpectedSeq())
	require.Contains(t, r.MissingChunks(), uint32(0))
	require.Contains(t, r.MissingChunks(), uint32(1))

	require.NoError(t, r.Chunk(chunkOf(0, 3, "1.0.0", []byte("AAAA"))))
	require.Equal(t, uint32(1), r.NextExpectedSeq())

	require.NoError(t, r.Chunk(chunkOf(1, 3, "1.0.0", []byte("BBBB"))))
	require.Equal(t, StateReadyToApply, r.State())
}

func TestDuplicateChunkIgnored(t *testing.T) {
	r := newTestReceiver(t)
	require.NoError(t, r.Start("1.0.0", 2, 8))
	require.NoError(t, r.Chunk(chunkOf(0, 2, "1.0.0", []byte("AAAA"))))
	require.NoError(t, r.Chunk(chunkOf(0, 2, "1.0.0", []byte("AAAA"))))
	require.Equal(t, uint32(1), r.NextExpectedSeq())
}

func TestRebootOnlyValidFromReadyToApply(t *testing.T) {
	r := newTestReceiver(t)
	err := r.Reboot()
	require.ErrorIs(t, err, ErrWrongState)

	require.NoError(t, r.Start("1.0.0", 1, 4))
	require.NoError(t, r.Chunk(chunkOf(0, 1, "1.0.0", []byte("AAAA"))))
	require.NoError(t, r.Reboot())
	require.Equal(t, StateRebooting, r.State())
}

func TestChunkHooksReportWrittenAndDiscarded(t *testing.T) {
	r := newTestReceiver(t)
	var written int
	var discarded []string
	r.OnChunkWritten(func() { written++ })
	r.OnChunkDiscarded(func(reason string) { discarded = append(discarded, reason) })

	require.NoError(t, r.Start("1.0.0", 2, 8))

	bad := chunkOf(0, 2, "1.0.0", []byte("AAAA"))
	bad.CRC32 ^= 0xFF
	require.NoError(t, r.Chunk(bad))
	require.NoError(t, r.Chunk(chunkOf(0, 2, "9.9.9", []byte("AAAA"))))
	require.ErrorIs(t, r.Chunk(chunkOf(5, 2, "1.0.0", []byte("AAAA"))), ErrSequenceOutOfRange)

	require.NoError(t, r.Chunk(chunkOf(0, 2, "1.0.0", []byte("AAAA"))))
	require.NoError(t, r.Chunk(chunkOf(1, 2, "1.0.0", []byte("BBBB"))))

	require.Equal(t, 2, written)
	require.Equal(t, []string{"crc", "version", "range"}, discarded)
}

func TestResetReturnsToIdleFromFailed(t *testing.T) {
	r := newTestReceiver(t)
	require.NoError(t, r.Start("1.0.0", 1, 1))
	// Oversized write relative to declared size triggers Failed at finalize.
	require.Error(t, r.Chunk(chunkOf(0, 1, "1.0.0", []byte("AAAA"))))
	require.Equal(t, StateFailed, r.State())

	r.Reset()
	require.Equal(t, StateIdle, r.State())
}
