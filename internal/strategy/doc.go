// Package strategy defines how one account is picked from a set of
// eligible candidates:
//
//   - Least Recently Used: the account idle the longest, so usage stays even
//   - Round Robin: sequential distribution across accounts sorted by id
//   - Random: uniform random selection
//   - Least Response Time: lowest exponentially weighted moving average (EWMA) latency
//
// Strategies only choose. Filtering by health and committing the binding
// belong to the selector.
package strategy
