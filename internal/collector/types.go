package collector

import (
	"time"
)

// DataPoint represents a single time-series data point.
type DataPoint struct {
	// Timestamp is when this data point was recorded.
	Timestamp time.Time

	// Value is the metric value at this timestamp.
	Value float64
}

// TimeSeries is a sequence of QPS samples for one load source.
// Not thread-safe; sources build one per fetch and hand it off.
type TimeSeries struct {
	// Metric is the name of the metric.
	Metric string

	// Points are the data points in chronological order.
	Points []DataPoint
}

// AddPoint appends a data point to the time series.
func (ts *TimeSeries) AddPoint(timestamp time.Time, value float64) {
	ts.Points = append(ts.Points, DataPoint{
		Timestamp: timestamp,
		Value:     value,
	})
}

// Average returns the mean of points inside the window ending at now.
// ok is false when no point falls inside the window.
func (ts *TimeSeries) Average(window time.Duration, now time.Time) (float64, bool) {
	cutoff := now.Add(-window)

	var sum float64
	var n int
	for _, p := range ts.Points {
		if !p.Timestamp.Before(cutoff) && !p.Timestamp.After(now) {
			sum += p.Value
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// Latest returns the most recent data point, or nil if empty.
func (ts *TimeSeries) Latest() *DataPoint {
	if len(ts.Points) == 0 {
		return nil
	}
	return &ts.Points[len(ts.Points)-1]
}
