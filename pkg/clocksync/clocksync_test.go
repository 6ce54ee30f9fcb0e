package clocksync

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu  sync.Mutex
	ms  int64
	err error
}

func (f *fakeSource) Now(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ms, f.err
}

func (f *fakeSource) set(ms int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ms, f.err = ms, err
}

func TestSyncSucceedsAndEstablishesOffset(t *testing.T) {
	src := &fakeSource{ms: 1_000_000}
	s := New(src, nil)

	_, ok := s.Offset()
	require.False(t, ok)

	require.NoError(t, s.Sync(context.Background()))
	_, ok = s.Offset()
	require.True(t, ok)

	now, ok := s.NowWallMS()
	require.True(t, ok)
	require.NotZero(t, now)
}

func TestSyncFailurePreservesPreviousOffset(t *testing.T) {
	src := &fakeSource{ms: 1_000_000}
	s := New(src, nil)
	require.NoError(t, s.Sync(context.Background()))
	before, _ := s.Offset()

	src.set(1_000_000, errors.New("unreachable"))
	err := s.Sync(context.Background())
	require.ErrorIs(t, err, ErrUnsynced)

	after, ok := s.Offset()
	require.True(t, ok)
	require.Equal(t, before, after)
}

func TestNowWallMSUnsyncedSentinel(t *testing.T) {
	src := &fakeSource{err: errors.New("down")}
	s := New(src, nil)
	_, ok := s.NowWallMS()
	require.False(t, ok)
}

func TestOnResultReportsOutcome(t *testing.T) {
	src := &fakeSource{ms: 1_000_000}
	s := New(src, nil)

	var mu sync.Mutex
	var oks []bool
	s.OnResult(func(ok bool, _ int64) {
		mu.Lock()
		oks = append(oks, ok)
		mu.Unlock()
	})

	require.NoError(t, s.Sync(context.Background()))
	src.set(1_000_000, errors.New("unreachable"))
	require.ErrorIs(t, s.Sync(context.Background()), ErrUnsynced)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []bool{true, false}, oks)
}

func TestRunRetriesUntilFirstSuccess(t *testing.T) {
	src := &fakeSource{err: errors.New("down")}
	s := New(src, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, 0)
		close(done)
	}()

	src.set(42_000, nil)
	for {
		if _, ok := s.Offset(); ok {
			break
		}
	}
	cancel()
	<-done
}
