package mdsource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff_CappedSequence(t *testing.T) {
	b := NewBackoff(time.Second, 30*time.Second, 0)

	var got []time.Duration
	for i := 0; i < 7; i++ {
		got = append(got, b.Next())
	}
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}, got)

	b.Reset()
	assert.Equal(t, time.Second, b.Next())
}

func TestBackoff_JitterStaysInBounds(t *testing.T) {
	b := NewBackoff(time.Second, 30*time.Second, 0.5)
	b.rnd = func() float64 { return 0.999 }

	assert.InDelta(t, float64(1500*time.Millisecond), float64(b.Next()), float64(time.Millisecond))
	for i := 0; i < 10; i++ {
		assert.LessOrEqual(t, b.Next(), 30*time.Second)
	}
}

func TestSleepCtx_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, SleepCtx(ctx, time.Hour), context.Canceled)
	require.NoError(t, SleepCtx(context.Background(), time.Millisecond))
}
