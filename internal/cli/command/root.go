// Package command provides CLI command definitions for clipmesh-cli.
package command

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/clipmesh/clipmesh-go/internal/cli/connection"
	"github.com/clipmesh/clipmesh-go/internal/infra/buildinfo"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "clipmesh-cli",
		Usage:   "ClipMesh command-line client and management tool",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			SessionCommand(),
			ClipCommand(),
			SystemCommand(),
		},
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "Relay wire address (e.g., localhost:9401)",
			EnvVars: []string{"CLIPMESH_SERVER"},
			Value:   "localhost:9401",
		},
		&cli.StringFlag{
			Name:    "ops",
			Usage:   "HTTP operations address (e.g., localhost:9402)",
			EnvVars: []string{"CLIPMESH_OPS"},
			Value:   "localhost:9402",
		},
		&cli.StringFlag{
			Name:    "client-id",
			Usage:   "Stable client identity (generated when empty)",
			EnvVars: []string{"CLIPMESH_CLIENT_ID"},
		},
		&cli.StringFlag{
			Name:    "name",
			Aliases: []string{"n"},
			Usage:   "Display name announced to peers",
		},
		&cli.StringFlag{
			Name:  "fingerprint",
			Usage: "Environment fingerprint announced to peers",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json",
			Value:   "table",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Request timeout",
			Value: 30 * time.Second,
		},
	}
}

// GlobalFlags defines flags available to all commands.
type GlobalFlags struct {
	Server string
	Ops    string

	// Client identity announced on join
	ClientID    string
	Name        string
	Fingerprint string

	Output  string // table, json
	Timeout time.Duration
}

// ParseGlobalFlags extracts global flags from context, filling identity
// defaults from the host environment.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	f := &GlobalFlags{
		Server:      c.String("server"),
		Ops:         c.String("ops"),
		ClientID:    c.String("client-id"),
		Name:        c.String("name"),
		Fingerprint: c.String("fingerprint"),
		Output:      c.String("output"),
		Timeout:     c.Duration("timeout"),
	}
	if f.Name == "" {
		if host, err := os.Hostname(); err == nil {
			f.Name = host
		} else {
			f.Name = "clipmesh-cli"
		}
	}
	if f.Fingerprint == "" {
		f.Fingerprint = "cli-" + runtime.GOOS
	}
	return f
}

// DialWire connects to the relay wire port.
func DialWire(flags *GlobalFlags) (*connection.WireClient, error) {
	return connection.Dial(flags.Server, flags.Timeout)
}

// OpsClient creates an HTTP operations client.
func OpsClient(flags *GlobalFlags) *connection.HTTPClient {
	return connection.NewHTTPClient(flags.Ops)
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
