package account

import "time"

// Stats summarizes the pool for the dashboard and the CLI.
type Stats struct {
	Total         int           `json:"total"`
	Active        int           `json:"active"`
	CoolingDown   int           `json:"cooling_down"`
	Disabled      int           `json:"disabled"`
	TotalRequests int64         `json:"total_requests"`
	SuccessRate   float64       `json:"success_rate"`
	AvgLatency    time.Duration `json:"avg_latency"`
}

// Summarize computes pool statistics at now. An account whose cooldown has
// elapsed counts as active.
func Summarize(accounts []Account, now time.Time) Stats {
	stats := Stats{Total: len(accounts)}

	var success int64
	var latencySum time.Duration
	var latencyCount int

	for _, a := range accounts {
		switch {
		case a.Status == StatusDisabled:
			stats.Disabled++
		case a.CoolingAt(now):
			stats.CoolingDown++
		default:
			stats.Active++
		}

		stats.TotalRequests += a.TotalRequests
		success += a.SuccessCount

		if a.AvgLatency > 0 {
			latencySum += a.AvgLatency
			latencyCount++
		}
	}

	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(success) / float64(stats.TotalRequests) * 100
	}
	if latencyCount > 0 {
		stats.AvgLatency = latencySum / time.Duration(latencyCount)
	}

	return stats
}
