// Package main provides the entry point for clipmesh-cli.
//
// The CLI tool provides command-line access to a ClipMesh relay for:
//
//   - Session management (check, create, join, verified join requests)
//   - Clipboard access (get, send, live event watching)
//   - Server operations (health, stats, session inspection)
//
// Usage:
//
//	clipmesh-cli [command] [flags]
//	clipmesh-cli session create my-room --passphrase secret
//	clipmesh-cli clip watch my-room --server localhost:9401
package main
