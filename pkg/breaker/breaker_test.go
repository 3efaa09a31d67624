package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bizdata-inc/listing-engine/pkg/apperrors"
)

var errUpstream = errors.New("upstream unavailable")

func newTestBreaker(t *testing.T, threshold int, cooldown time.Duration) (*Breaker, *time.Time) {
	t.Helper()
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	b := New(threshold, cooldown, zap.NewNop(), WithClock(func() time.Time { return now }))
	return b, &now
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(t, 3, time.Minute)

	for i := 0; i < 3; i++ {
		err := b.Do(func() error { return errUpstream })
		require.ErrorIs(t, err, errUpstream)
	}
	assert.Equal(t, Open, b.State())

	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, apperrors.ErrCircuitOpen)
	assert.False(t, called, "open breaker must not invoke the call")
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(t, 3, time.Minute)

	require.Error(t, b.Do(func() error { return errUpstream }))
	require.Error(t, b.Do(func() error { return errUpstream }))
	require.NoError(t, b.Do(func() error { return nil }))
	require.Error(t, b.Do(func() error { return errUpstream }))
	require.Error(t, b.Do(func() error { return errUpstream }))

	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenProbeSuccessCloses(t *testing.T) {
	b, now := newTestBreaker(t, 1, time.Minute)

	require.Error(t, b.Do(func() error { return errUpstream }))
	require.Equal(t, Open, b.State())

	*now = now.Add(61 * time.Second)

	err := b.Do(func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	b, now := newTestBreaker(t, 1, time.Minute)

	require.Error(t, b.Do(func() error { return errUpstream }))
	*now = now.Add(61 * time.Second)

	require.ErrorIs(t, b.Do(func() error { return errUpstream }), errUpstream)
	assert.Equal(t, Open, b.State())

	// Still inside the fresh cooldown window.
	*now = now.Add(30 * time.Second)
	assert.ErrorIs(t, b.Do(func() error { return nil }), apperrors.ErrCircuitOpen)
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	var states []State
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	b := New(1, time.Minute, zap.NewNop(),
		WithClock(func() time.Time { return now }),
		WithStateChange(func(s State) { states = append(states, s) }))

	require.Error(t, b.Do(func() error { return errUpstream }))
	now = now.Add(61 * time.Second)
	require.NoError(t, b.Do(func() error { return nil }))

	assert.Equal(t, []State{Open, HalfOpen, Closed}, states)
}
