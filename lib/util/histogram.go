package util

import (
	"math"
	"sort"
	"sync"
)

// SizeHistogram tracks the distribution of value sizes in exponential
// buckets from 16 bytes to 4 GB.
//
// Thread-safe: all methods are safe for concurrent use
type SizeHistogram struct {
	mutex      sync.RWMutex
	boundaries []int   // upper bucket bounds
	buckets    []int64 // one more than boundaries, the last collects larger values
	count      int64
	sum        int64
}

// NewSizeHistogram creates a histogram with the default bucket boundaries.
func NewSizeHistogram() *SizeHistogram {
	boundaries := []int{
		16, 64, 256, 1024, 4096, // Bytes: 16B to 4KB
		16384, 65536, 262144, 1048576, // KB range: 16KB to 1MB
		4194304, 16777216, 67108864, // MB range: 4MB to 64MB
		268435456, 1073741824, 4294967296, // 256MB to 4GB
	}
	return &SizeHistogram{
		boundaries: boundaries,
		buckets:    make([]int64, len(boundaries)+1),
	}
}

// AddSample adds a size sample to the histogram.
func (h *SizeHistogram) AddSample(size int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.buckets[sort.SearchInts(h.boundaries, size)]++
	h.count++
	h.sum += int64(size)
}

// Count returns the number of samples.
func (h *SizeHistogram) Count() int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.count
}

// Sum returns the sum of all samples.
func (h *SizeHistogram) Sum() int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.sum
}

// AverageSize returns the mean sample.
func (h *SizeHistogram) AverageSize() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if h.count == 0 {
		return 0
	}
	return int(h.sum / h.count)
}

// PercentileEstimate estimates the given percentile (0-100) from the
// bucket midpoints.
func (h *SizeHistogram) PercentileEstimate(percentile int) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.count == 0 || percentile < 0 || percentile > 100 {
		return 0
	}
	target := int64(math.Ceil(float64(h.count) * float64(percentile) / 100.0))
	var cumulative int64
	for i, c := range h.buckets {
		cumulative += c
		if cumulative >= target {
			return h.estimate(i)
		}
	}
	return int(h.sum / h.count)
}

func (h *SizeHistogram) estimate(bucket int) int {
	switch {
	case bucket == 0:
		return h.boundaries[0] / 2
	case bucket < len(h.boundaries):
		return (h.boundaries[bucket-1] + h.boundaries[bucket]) / 2
	default:
		return h.boundaries[len(h.boundaries)-1] * 2
	}
}

// Distribution returns the bucket boundaries and the percentage of
// samples per bucket.
func (h *SizeHistogram) Distribution() ([]int, []float64) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	percentages := make([]float64, len(h.buckets))
	if h.count == 0 {
		return h.boundaries, percentages
	}
	for i, c := range h.buckets {
		percentages[i] = float64(c) * 100.0 / float64(h.count)
	}
	return h.boundaries, percentages
}
