// Package config handles loading and parsing of configuration from YAML files
// and environment variables. It defines the application configuration
// structure: server and logging settings, the retry and health policy of the
// pool, the selection strategy, the account store, the upstream service,
// scheduled health checks, the request log and metrics.
package config
