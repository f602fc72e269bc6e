// Package logger provides structured logging with configurable log levels.
// It wraps the standard log/slog package: text output in development, JSON
// in production, and every record carries the environment. Request ids
// travel in the context and are attached with FromContext.
package logger
