// Package util provides helpers to describe data distributions cheaply.
//
// Stats and DistributionStats summarise a set of values (e.g. shard sizes or leaf
// fill levels). SizeHistogram buckets samples exponentially so that sizes from a few
// bytes up to gigabytes can be estimated from a small, fixed amount of memory.
package util

import (
	"math"
	"sync/atomic"
)

// ----------------------------------------------------------------------------
// Summary statistics
// ----------------------------------------------------------------------------

type Stats struct {
	Count        int     `json:"count"`
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
}

// NewStats summarises values in a single pass (Welford's online algorithm).
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	s := Stats{Count: len(values), Min: values[0], Max: values[0]}
	var m2 float64
	for i, v := range values {
		delta := v - s.Mean
		s.Mean += delta / float64(i+1)
		m2 += delta * (v - s.Mean)
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	s.StdDeviation = math.Sqrt(m2 / float64(len(values)))

	s.MinMaxRatio = 1.0
	if s.Max > 0 {
		s.MinMaxRatio = s.Min / s.Max
	}
	return s
}

type DistributionStats struct {
	Stats
	DistributionQuality float64 `json:"distribution_quality"`
}

// NewDistributionStats rates how evenly values are spread.
// DistributionQuality is 1 for a perfectly even spread and approaches 0 for a skewed one,
// it averages the (capped) coefficient of variation and the min/max ratio.
func NewDistributionStats(values []float64) DistributionStats {
	stats := NewStats(values)

	var cv float64
	if stats.Mean > 0 {
		cv = stats.StdDeviation / stats.Mean
	}

	return DistributionStats{
		Stats:               stats,
		DistributionQuality: (1.0-math.Min(1.0, cv))*0.5 + stats.MinMaxRatio*0.5,
	}
}

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// histogramBounds are the inclusive upper bounds of the buckets (16B, 64B, ... 4GB).
// Every bucket is four times as wide as the previous one, the last bucket is open.
var histogramBounds = func() []int {
	bounds := make([]int, 0, 15)
	for b := 16; len(bounds) < 15; b *= 4 {
		bounds = append(bounds, b)
	}
	return bounds
}()

// SizeHistogram tracks the distribution of sizes with exponentially growing buckets.
//
// Thread-safety: all methods are safe for concurrent use, samples are counted with atomics.
type SizeHistogram struct {
	buckets [16]atomic.Int64
	count   atomic.Int64
	sum     atomic.Int64
}

// NewSizeHistogram creates an empty histogram.
func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{}
}

func bucketOf(size int) int {
	for i, bound := range histogramBounds {
		if size <= bound {
			return i
		}
	}
	return len(histogramBounds)
}

// AddSample records one size.
func (h *SizeHistogram) AddSample(size int) {
	h.buckets[bucketOf(size)].Add(1)
	h.count.Add(1)
	h.sum.Add(int64(size))
}

// Count returns the number of samples.
func (h *SizeHistogram) Count() int64 {
	return h.count.Load()
}

// AverageSize returns the exact mean of all samples.
func (h *SizeHistogram) AverageSize() int {
	count := h.count.Load()
	if count == 0 {
		return 0
	}
	return int(h.sum.Load() / count)
}

// MedianEstimate estimates the median sample size.
func (h *SizeHistogram) MedianEstimate() int {
	return h.Percentile(50)
}

// Percentile estimates the p-th percentile (0-100) of the sample sizes. The estimate
// is the midpoint of the bucket containing the percentile.
func (h *SizeHistogram) Percentile(p int) int {
	count := h.count.Load()
	if count == 0 || p < 0 || p > 100 {
		return 0
	}

	target := int64(math.Ceil(float64(count) * float64(p) / 100.0))
	var cumulative int64
	for i := range h.buckets {
		cumulative += h.buckets[i].Load()
		if cumulative >= target {
			return bucketMidpoint(i)
		}
	}
	return int(h.sum.Load() / count)
}

func bucketMidpoint(i int) int {
	switch {
	case i == 0:
		return histogramBounds[0] / 2
	case i < len(histogramBounds):
		return (histogramBounds[i-1] + histogramBounds[i]) / 2
	default:
		return histogramBounds[len(histogramBounds)-1] * 2
	}
}

// Distribution returns the bucket bounds and the share of samples (in percent) per bucket.
// The last share belongs to the open bucket above the last bound.
func (h *SizeHistogram) Distribution() ([]int, []float64) {
	shares := make([]float64, len(h.buckets))
	count := h.count.Load()
	if count == 0 {
		return histogramBounds, shares
	}
	for i := range h.buckets {
		shares[i] = float64(h.buckets[i].Load()) * 100.0 / float64(count)
	}
	return histogramBounds, shares
}

// Reset drops all samples.
func (h *SizeHistogram) Reset() {
	for i := range h.buckets {
		h.buckets[i].Store(0)
	}
	h.count.Store(0)
	h.sum.Store(0)
}
