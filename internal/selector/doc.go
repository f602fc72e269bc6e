// Package selector binds a request attempt to one account of the pool.
//
// Candidates are the store's active accounts minus the ones already tried by
// the request. Healthy accounts are preferred; degraded ones are used only
// when no healthy account is left. The configured strategy picks among the
// candidates and the choice is committed to the store (LastUsed, and revival
// of an account whose cooldown has elapsed) before Select returns.
package selector
