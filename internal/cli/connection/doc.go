// Package connection provides connection management for clipmesh-cli.
//
// It offers two transports: a WireClient speaking the newline-delimited
// JSON envelope protocol against the relay port, and an HTTPClient for
// the operations endpoints (health, session inspection, stats).
package connection
