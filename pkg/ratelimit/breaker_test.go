package ratelimit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNotFound = errors.New("not found")

func TestManager_TripsAfterConsecutiveFailures(t *testing.T) {
	m := NewManager(Rule{TripConsecutiveFailures: 3, Timeout: time.Minute}, nil, nil)
	boom := errors.New("db down")

	for i := 0; i < 3; i++ {
		_, err := Do(m, "store.latest", func() (int, error) { return 0, boom })
		require.ErrorIs(t, err, boom)
	}

	called := false
	_, err := Do(m, "store.latest", func() (int, error) {
		called = true
		return 1, nil
	})
	assert.True(t, IsOpen(err))
	assert.False(t, called)
}

func TestManager_ExpectedErrorsDoNotTrip(t *testing.T) {
	m := NewManager(Rule{TripConsecutiveFailures: 2, Timeout: time.Minute}, nil, func(err error) bool {
		return errors.Is(err, errNotFound)
	})

	for i := 0; i < 5; i++ {
		_, err := Do(m, "store.latest", func() (string, error) { return "", errNotFound })
		require.ErrorIs(t, err, errNotFound)
	}

	v, err := Do(m, "store.latest", func() (string, error) { return "AAPL", nil })
	require.NoError(t, err)
	assert.Equal(t, "AAPL", v)
}

func TestManager_BreakersArePerName(t *testing.T) {
	m := NewManager(Rule{TripConsecutiveFailures: 1, Timeout: time.Minute}, nil, nil)
	_, _ = Do(m, "a", func() (int, error) { return 0, errors.New("x") })

	_, errA := Do(m, "a", func() (int, error) { return 1, nil })
	v, errB := Do(m, "b", func() (int, error) { return 2, nil })

	assert.True(t, IsOpen(errA))
	require.NoError(t, errB)
	assert.Equal(t, 2, v)
	assert.Same(t, m.Get("b"), m.Get("b"))
}

func TestStore_AllowPerKey(t *testing.T) {
	s := NewStore(1, 2, time.Minute)

	assert.True(t, s.Allow("1.2.3.4:/v1/quotes"))
	assert.True(t, s.Allow("1.2.3.4:/v1/quotes"))
	assert.False(t, s.Allow("1.2.3.4:/v1/quotes"))
	assert.True(t, s.Allow("5.6.7.8:/v1/quotes"))
}

func TestStore_CleanupEvictsIdle(t *testing.T) {
	s := NewStore(1, 1, time.Nanosecond)
	s.Allow("k")
	time.Sleep(time.Millisecond)
	s.cleanup()

	s.mu.Lock()
	n := len(s.entries)
	s.mu.Unlock()
	assert.Zero(t, n)
}
