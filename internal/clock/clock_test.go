package clock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNext(t *testing.T) {
	s := New()
	require.Equal(t, 1, s.Next("d1"))
	require.Equal(t, 2, s.Next("d1"))
	require.Equal(t, 1, s.Next("d2"))
}

func TestMerge(t *testing.T) {
	s := New()
	require.Equal(t, 6, s.Merge("d1", 5))
	// merging the same received value again is not a no-op: once the
	// clock has absorbed r, each further merge advances it by one past the
	// stored value.
	require.Equal(t, 7, s.Merge("d1", 5))
	require.Equal(t, 8, s.Merge("d1", 5))
}

func TestMergeTakesMaxOfCurrentAndReceived(t *testing.T) {
	s := New()
	s.Next("d1") // clock = 1
	require.Equal(t, 11, s.Merge("d1", 10))
}

func TestPerDiagramIsolation(t *testing.T) {
	s := New()
	s.Next("d1")
	s.Next("d1")
	require.Equal(t, 0, s.Current("d2"))
	require.Equal(t, 2, s.Current("d1"))
}

func TestReset(t *testing.T) {
	s := New()
	s.Next("d1")
	s.Reset("d1")
	require.Equal(t, 0, s.Current("d1"))
}
