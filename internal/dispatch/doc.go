// Package dispatch runs one client request against the pool.
//
// Each attempt binds an account through the selector, forwards the request
// with that account's credentials, reports the outcome to the health tracker
// and appends one request log entry. Failed accounts join the request's
// exclusion set and the next attempt picks another account, until the retry
// budget is spent or no eligible account is left.
package dispatch
