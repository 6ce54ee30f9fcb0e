package partition

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommitMakesNewImageActive(t *testing.T) {
	dir := t.TempDir()
	slots, err := New(dir)
	require.NoError(t, err)

	w, err := slots.OpenInactiveForWrite(8)
	require.NoError(t, err)
	require.NoError(t, w.WriteAt([]byte("firmware"), 0))
	require.NoError(t, w.Commit())

	r, err := slots.ReadActive()
	require.NoError(t, err)
	defer r.Close()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "firmware", string(b))
}

func TestCommitTwiceDemotesPreviousActive(t *testing.T) {
	dir := t.TempDir()
	slots, err := New(dir)
	require.NoError(t, err)

	w1, err := slots.OpenInactiveForWrite(2)
	require.NoError(t, err)
	require.NoError(t, w1.WriteAt([]byte("v1"), 0))
	require.NoError(t, w1.Commit())

	w2, err := slots.OpenInactiveForWrite(2)
	require.NoError(t, err)
	require.NoError(t, w2.WriteAt([]byte("v2"), 0))
	require.NoError(t, w2.Commit())

	r, err := slots.ReadActive()
	require.NoError(t, err)
	b, _ := io.ReadAll(r)
	r.Close()
	require.Equal(t, "v2", string(b))

	require.NoError(t, slots.Rollback())
	r, err = slots.ReadActive()
	require.NoError(t, err)
	b, _ = io.ReadAll(r)
	r.Close()
	require.Equal(t, "v1", string(b))
}

func TestAbortDiscardsPendingImage(t *testing.T) {
	dir := t.TempDir()
	slots, err := New(dir)
	require.NoError(t, err)

	w, err := slots.OpenInactiveForWrite(4)
	require.NoError(t, err)
	require.NoError(t, w.WriteAt([]byte("junk"), 0))
	require.NoError(t, w.Abort())

	_, err = slots.ReadActive()
	require.Error(t, err)
}

func TestWriteAtIsOffsetAddressed(t *testing.T) {
	dir := t.TempDir()
	slots, err := New(dir)
	require.NoError(t, err)

	w, err := slots.OpenInactiveForWrite(8)
	require.NoError(t, err)
	require.NoError(t, w.WriteAt([]byte("BBBB"), 4))
	require.NoError(t, w.WriteAt([]byte("AAAA"), 0))
	require.NoError(t, w.Commit())

	r, err := slots.ReadActive()
	require.NoError(t, err)
	defer r.Close()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "AAAABBBB", string(b))
}
