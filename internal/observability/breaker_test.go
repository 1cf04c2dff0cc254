package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sevigo/reviewcore/internal/pipelineerr"
)

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := NewBreaker("kg", 3, 10*time.Millisecond, nil)
	require.NoError(t, b.Allow())

	b.Failure()
	b.Failure()
	require.Equal(t, StateClosed, b.State())
	b.Failure()
	require.Equal(t, StateOpen, b.State())

	err := b.Allow()
	require.Error(t, err)
	require.True(t, pipelineerr.Is(err, pipelineerr.CodeCircuitOpen))
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := NewBreaker("llm", 1, 5*time.Millisecond, nil)
	b.Failure()
	require.Equal(t, StateOpen, b.State())

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, b.Allow()) // transitions to half-open, admits the probe
	require.Equal(t, StateHalfOpen, b.State())

	// A second concurrent caller is rejected while the probe is in flight.
	require.Error(t, b.Allow())

	b.Success()
	require.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("github", 1, 5*time.Millisecond, nil)
	b.Failure()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, b.Allow())
	require.Equal(t, StateHalfOpen, b.State())

	b.Failure()
	require.Equal(t, StateOpen, b.State())
}

func TestRegistryReusesBreakerPerDependency(t *testing.T) {
	r := NewRegistry(5, time.Second, nil)
	a := r.Get("kg")
	b := r.Get("kg")
	require.Same(t, a, b)

	c := r.Get("llm")
	require.NotSame(t, a, c)
}
