package trip

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSpeedSource struct {
	speeds []float64
	err    error
}

func (s *fakeSpeedSource) ClosedTripSpeeds(days int) ([]float64, error) {
	return s.speeds, s.err
}

func TestStatsRollup(t *testing.T) {
	src := &fakeSpeedSource{speeds: []float64{30, 50, 40, 20, 60, 10, 70, 90, 80, 100}}

	s, err := Stats(src, 7)
	require.NoError(t, err)

	assert.Equal(t, 10, s.Count)
	assert.InDelta(t, 55.0, s.MeanKMH, 1e-9)
	assert.InDelta(t, 30.28, s.StdDevKMH, 0.01)
	assert.InDelta(t, 50.0, s.P50KMH, 1e-9)
	assert.InDelta(t, 90.0, s.P90KMH, 1e-9)
	assert.InDelta(t, 100.0, s.P99KMH, 1e-9)
}

func TestStatsSingleTrip(t *testing.T) {
	s, err := Stats(&fakeSpeedSource{speeds: []float64{42}}, 7)
	require.NoError(t, err)

	assert.Equal(t, 1, s.Count)
	assert.Equal(t, 42.0, s.MeanKMH)
	// A single sample has no spread; the rollup must stay JSON-encodable.
	assert.Equal(t, 0.0, s.StdDevKMH)
}

func TestStatsPropagatesStoreError(t *testing.T) {
	_, err := Stats(&fakeSpeedSource{err: errors.New("store down")}, 7)
	assert.Error(t, err)
}
