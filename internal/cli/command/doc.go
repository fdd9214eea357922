// Package command provides CLI command definitions for clipmesh-cli.
//
// It uses urfave/cli/v2 for command parsing. Commands either speak the
// wire protocol directly against the relay port or query the HTTP
// operations endpoints.
package command
