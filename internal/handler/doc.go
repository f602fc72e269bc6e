// Package handler implements the HTTP surface of the gateway: the
// OpenAI-compatible endpoints that route requests through the account pool,
// and the admin API used to inspect and manage the pool.
package handler
