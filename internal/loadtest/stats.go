package loadtest

import (
	"sort"

	"webhook-scheduler/internal/models"
)

// Stats aggregates per-request outcomes into report figures. Latency
// percentiles use the nearest-rank method: over the ascending-sorted
// sample of n latencies, the p-th percentile is the value at rank
// ceil(p/100*n).
type Stats struct {
	Total      int64
	Successful int64
	Failed     int64
	AvgMs      *int64
	MinMs      *int64
	MaxMs      *int64
	P95Ms      *int64
	P99Ms      *int64
}

// Aggregate computes statistics over all recorded results.
func Aggregate(results []models.CollectionResult) Stats {
	stats := Stats{Total: int64(len(results))}
	if len(results) == 0 {
		return stats
	}

	latencies := make([]int64, 0, len(results))
	var sum int64
	for _, r := range results {
		if r.Success {
			stats.Successful++
		} else {
			stats.Failed++
		}
		latencies = append(latencies, r.ResponseTimeMs)
		sum += r.ResponseTimeMs
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	avg := sum / int64(len(latencies))
	min := latencies[0]
	max := latencies[len(latencies)-1]
	p95 := nearestRank(latencies, 95)
	p99 := nearestRank(latencies, 99)

	stats.AvgMs = &avg
	stats.MinMs = &min
	stats.MaxMs = &max
	stats.P95Ms = &p95
	stats.P99Ms = &p99
	return stats
}

func nearestRank(sorted []int64, percentile int) int64 {
	rank := (percentile*len(sorted) + 99) / 100 // ceil(p/100*n) in integers
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
