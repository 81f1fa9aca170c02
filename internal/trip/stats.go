package trip

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// SpeedStats is the rollup over closed movement trips served by the HTTP API.
type SpeedStats struct {
	Count     int     `json:"count"`
	MeanKMH   float64 `json:"mean_kmh"`
	StdDevKMH float64 `json:"stddev_kmh"`
	P50KMH    float64 `json:"p50_kmh"`
	P90KMH    float64 `json:"p90_kmh"`
	P99KMH    float64 `json:"p99_kmh"`
}

// SpeedSource yields the average speeds of closed movement trips over the
// trailing number of days.
type SpeedSource interface {
	ClosedTripSpeeds(days int) ([]float64, error)
}

// Stats computes the speed rollup for the trailing number of days. An empty
// window yields a zero-valued rollup, not an error.
func Stats(src SpeedSource, days int) (*SpeedStats, error) {
	speeds, err := src.ClosedTripSpeeds(days)
	if err != nil {
		return nil, err
	}
	if len(speeds) == 0 {
		return &SpeedStats{}, nil
	}

	sort.Float64s(speeds)
	var stddev float64
	if len(speeds) > 1 {
		stddev = stat.StdDev(speeds, nil)
	}
	return &SpeedStats{
		Count:     len(speeds),
		MeanKMH:   stat.Mean(speeds, nil),
		StdDevKMH: stddev,
		P50KMH:    stat.Quantile(0.50, stat.Empirical, speeds, nil),
		P90KMH:    stat.Quantile(0.90, stat.Empirical, speeds, nil),
		P99KMH:    stat.Quantile(0.99, stat.Empirical, speeds, nil),
	}, nil
}
