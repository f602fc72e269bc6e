// Command poolgate runs an OpenAI-compatible gateway in front of a pool of
// upstream accounts, and manages that pool from the command line.
//
// Usage:
//
//	# Run the gateway
//	poolgate serve --config config.yaml
//
//	# Import registration output and inspect the pool
//	poolgate accounts import registered.json
//	poolgate accounts list --status disabled -o yaml
//	poolgate accounts stats
//
//	# Probe every account once
//	poolgate health --concurrency 10
package main

func main() {
	Execute()
}
