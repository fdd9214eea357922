// Package command provides CLI command definitions for clipmesh-cli.
package command

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/clipmesh/clipmesh-go/internal/cli/connection"
	"github.com/clipmesh/clipmesh-go/internal/cli/output"
)

// SystemCommand returns the system subcommand group.
func SystemCommand() *cli.Command {
	return &cli.Command{
		Name:    "system",
		Aliases: []string{"sys"},
		Usage:   "Query server health and statistics",
		Subcommands: []*cli.Command{
			{
				Name:   "health",
				Usage:  "Check server health",
				Action: systemHealth,
			},
			{
				Name:   "stats",
				Usage:  "Show server statistics",
				Action: systemStats,
			},
			{
				Name:      "inspect",
				Usage:     "Inspect one session via the ops API",
				ArgsUsage: "SESSION_ID",
				Action:    systemInspect,
			},
		},
	}
}

func systemHealth(c *cli.Context) error {
	flags := ParseGlobalFlags(c)
	client := OpsClient(flags)

	ctx, cancel := context.WithTimeout(context.Background(), flags.Timeout)
	defer cancel()

	resp, err := client.Get(ctx, "/health")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	var result struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	if err := connection.ParseResponse(resp, &result); err != nil {
		return err
	}

	fmt.Printf("Server %s is %s (version %s)\n", client.BaseURL(), result.Status, result.Version)
	return nil
}

func systemStats(c *cli.Context) error {
	flags := ParseGlobalFlags(c)
	client := OpsClient(flags)

	ctx, cancel := context.WithTimeout(context.Background(), flags.Timeout)
	defer cancel()

	resp, err := client.Get(ctx, "/v1/stats")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	var result struct {
		Sessions             int    `json:"sessions"`
		Members              int    `json:"members"`
		ActiveMembers        int    `json:"active_members"`
		PendingVerifications int    `json:"pending_verifications"`
		Version              string `json:"version"`
	}
	if err := connection.ParseResponse(resp, &result); err != nil {
		return err
	}

	if flags.Output == string(output.FormatJSON) {
		return (&output.JSONFormatter{}).Format(os.Stdout, result)
	}
	table := &output.Table{Headers: []string{"METRIC", "VALUE"}}
	table.AddRow("sessions", fmt.Sprintf("%d", result.Sessions))
	table.AddRow("members", fmt.Sprintf("%d", result.Members))
	table.AddRow("active_members", fmt.Sprintf("%d", result.ActiveMembers))
	table.AddRow("pending_verifications", fmt.Sprintf("%d", result.PendingVerifications))
	table.AddRow("version", result.Version)
	return table.Render(os.Stdout)
}

func systemInspect(c *cli.Context) error {
	sessionID := c.Args().First()
	if sessionID == "" {
		return fmt.Errorf("session ID required")
	}

	flags := ParseGlobalFlags(c)
	client := OpsClient(flags)

	ctx, cancel := context.WithTimeout(context.Background(), flags.Timeout)
	defer cancel()

	resp, err := client.Get(ctx, "/v1/sessions/"+sessionID)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	var result map[string]any
	if err := connection.ParseResponse(resp, &result); err != nil {
		return err
	}
	return (&output.JSONFormatter{}).Format(os.Stdout, result)
}
