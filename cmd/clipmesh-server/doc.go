// Package main provides the entry point for clipmesh-server.
//
// The server is the core ClipMesh relay that provides:
//
//   - A TCP wire protocol for session membership, clipboard sync,
//     join verification, and chunked file relay
//   - An HTTP operations surface for health, session inspection,
//     stats, and Prometheus metrics
//   - Background liveness probing and membership reconciliation
//
// Usage:
//
//	clipmesh-server [flags]
//	clipmesh-server --config /path/to/config.yaml
//
// The server loads configuration, initializes infrastructure components,
// and starts all configured listeners.
package main
