// Package metrics collects pool and gateway metrics off the request path.
//
// Components emit events to a buffered channel with non-blocking semantics;
// a dedicated goroutine folds them into:
//   - Gateway request counts by result
//   - Per-account selections, attempts and attempt outcomes
//   - Attempt latencies with percentile calculations (P50, P95, P99)
//   - Upstream status code distribution
//   - The last known health condition of every account
//
// The same events feed Prometheus vectors when a registerer is supplied.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger, prometheus.NewRegistry())
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:       metrics.EventAttemptCompleted,
//		Account:    "a@example.com",
//		Outcome:    "success",
//		Duration:   150 * time.Millisecond,
//		StatusCode: 200,
//	})
//
//	snapshot := collector.Snapshot("least-recently-used")
package metrics
