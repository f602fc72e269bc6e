// Package upstream forwards requests to the OpenAI-compatible chat-completion
// service with one account's credentials and classifies the outcome.
//
// Classification drives account health:
//
//   - network errors, timeouts, 408, 429 and 5xx are transient
//   - 401, 402 and 403 are terminal for the account
//   - any other 4xx is the caller's fault and is passed through as-is
package upstream
