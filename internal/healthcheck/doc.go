// Package healthcheck probes pool accounts with a minimal chat completion
// and feeds the result into account health. Sweeps over every non-disabled
// account run on a cron schedule with bounded concurrency; single accounts
// can be probed on demand by an operator.
package healthcheck
