package circuitbreaker

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBreaker(now *time.Time) *Breaker {
	return NewBreaker("/S4", Config{
		TripAfter: 3,
		Cooldown:  30 * time.Second,
		Probes:    2,
		Logger:    zerolog.Nop(),
		Now:       func() time.Time { return *now },
	})
}

func TestTripsAfterConsecutiveFailures(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := newBreaker(&now)

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.Record(false)
	}
	assert.Equal(t, StateClosed, b.State())

	require.NoError(t, b.Allow())
	b.Record(false)
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrOpen)
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := newBreaker(&now)

	b.Record(false)
	b.Record(false)
	b.Record(true)
	b.Record(false)
	b.Record(false)
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenProbesAndClose(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := newBreaker(&now)

	for i := 0; i < 3; i++ {
		b.Record(false)
	}
	require.Equal(t, StateOpen, b.State())

	now = now.Add(31 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	// Only two probes admitted at a time.
	require.NoError(t, b.Allow())
	require.NoError(t, b.Allow())
	assert.ErrorIs(t, b.Allow(), ErrOpen)

	b.Record(true)
	b.Record(true)
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := newBreaker(&now)

	for i := 0; i < 3; i++ {
		b.Record(false)
	}
	now = now.Add(31 * time.Second)
	require.NoError(t, b.Allow())
	b.Record(false)

	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrOpen)
}

func TestGroupKeysByEndpoint(t *testing.T) {
	g := NewGroup(Config{Logger: zerolog.Nop()})
	a := g.Get("/S4")
	b := g.Get("/SQ1")
	assert.NotSame(t, a, b)
	assert.Same(t, a, g.Get("/S4"))
}
