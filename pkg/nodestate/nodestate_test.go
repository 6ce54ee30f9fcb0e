package nodestate

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(LastGoodChannelKey, "6"))

	reopened, err := Open(path)
	require.NoError(t, err)
	v, ok := reopened.Get(LastGoodChannelKey)
	require.True(t, ok)
	require.Equal(t, "6", v)
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	s, err := Open(path)
	require.NoError(t, err)
	_, ok := s.Get(LastGoodChannelKey)
	require.False(t, ok)
}

func TestGetUnknownKey(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	_, ok := s.Get("nope")
	require.False(t, ok)
}
