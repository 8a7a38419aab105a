package breakers

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	b := NewWithSettings("primary", Settings{ConsecutiveFailures: 2, Timeout: time.Hour})
	boom := errors.New("upstream 500")

	for i := 0; i < 2; i++ {
		_, err := b.Execute(func() (any, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, "open", b.State())

	calls := 0
	_, err := b.Execute(func() (any, error) { calls++; return nil, nil })
	assert.True(t, IsOpen(err))
	assert.Zero(t, calls)
}

func TestBreaker_PassesResults(t *testing.T) {
	b := NewWithSettings("market:backup.example.com", Settings{})
	assert.Equal(t, "market:backup.example.com", b.Name())

	v, err := b.Execute(func() (any, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, "closed", b.State())
}

func TestBreaker_HalfOpenRecovers(t *testing.T) {
	b := NewWithSettings("flaky", Settings{ConsecutiveFailures: 1, Timeout: 10 * time.Millisecond})

	_, _ = b.Execute(func() (any, error) { return nil, errors.New("down") })
	require.Equal(t, "open", b.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "half-open", b.State())

	_, err := b.Execute(func() (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "closed", b.State())
}

func TestIsOpen(t *testing.T) {
	assert.False(t, IsOpen(nil))
	assert.False(t, IsOpen(errors.New("other")))
}
