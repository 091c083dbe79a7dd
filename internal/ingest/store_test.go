package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(max int) *Store {
	return NewStore(max, func(id string) *Session {
		return NewSession(id, Options{Extractor: echoExtractor})
	})
}

func TestStoreCreateGetDelete(t *testing.T) {
	st := newTestStore(0)

	s, err := st.Create()
	require.NoError(t, err)
	require.NotEmpty(t, s.ID())
	require.Equal(t, 1, st.Len())

	got, ok := st.Get(s.ID())
	require.True(t, ok)
	require.Same(t, s, got)

	require.True(t, st.Delete(s.ID()))
	require.False(t, st.Delete(s.ID()))
	_, ok = st.Get(s.ID())
	require.False(t, ok)
	require.Zero(t, st.Len())
}

func TestStoreRefusesPastCapacity(t *testing.T) {
	st := newTestStore(2)
	for i := 0; i < 2; i++ {
		_, err := st.Create()
		require.NoError(t, err)
	}
	_, err := st.Create()
	require.ErrorIs(t, err, ErrTooManySessions)
}

func TestStoreSweepClosesIdleSessions(t *testing.T) {
	st := newTestStore(0)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return now }

	idle, err := st.Create()
	require.NoError(t, err)
	now = now.Add(20 * time.Minute)
	fresh, err := st.Create()
	require.NoError(t, err)

	now = now.Add(15 * time.Minute)
	require.Equal(t, 1, st.Sweep(30*time.Minute))

	_, ok := st.Get(idle.ID())
	require.False(t, ok)
	_, ok = st.Get(fresh.ID())
	require.True(t, ok)

	require.ErrorIs(t, idle.AddFiles(t.Context(), nil), ErrSessionClosed)
}
