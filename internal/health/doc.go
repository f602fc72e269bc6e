// Package health tracks per-account liveness from observed upstream outcomes.
//
// Each account moves through the conditions
//
//   - HEALTHY: no recent failures
//   - DEGRADED: some consecutive failures, still selectable
//   - COOLING-DOWN: failure threshold crossed, excluded until the cooldown ends
//   - DISABLED: terminal failure, excluded until an operator reinstates it
//
// Once a cooldown elapses the account is optimistically treated as healthy
// again (half-open); the next outcome decides where it goes.
//
// Usage:
//
//	tracker := health.NewTracker(st, health.Policy{FailureThreshold: 3, Cooldown: 5 * time.Minute})
//	if err != nil {
//	    tracker.RecordFailure(ctx, id, health.Transient, err.Error(), latency)
//	} else {
//	    tracker.RecordSuccess(ctx, id, latency)
//	}
package health
