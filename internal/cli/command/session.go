// Package command provides CLI command definitions for clipmesh-cli.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/clipmesh/clipmesh-go/internal/cli/output"
	"github.com/clipmesh/clipmesh-go/internal/server/wireserver"
)

// SessionCommand returns the session subcommand group.
func SessionCommand() *cli.Command {
	return &cli.Command{
		Name:    "session",
		Aliases: []string{"sess"},
		Usage:   "Manage clipboard sessions",
		Subcommands: []*cli.Command{
			{
				Name:      "check",
				Usage:     "Check whether a session exists",
				ArgsUsage: "SESSION_ID",
				Action:    sessionCheck,
			},
			{
				Name:      "create",
				Usage:     "Create a session and stay as its first member",
				ArgsUsage: "SESSION_ID",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "passphrase",
						Aliases:  []string{"p"},
						Usage:    "Session passphrase",
						Required: true,
					},
				},
				Action: sessionCreate,
			},
			{
				Name:      "join",
				Usage:     "Rejoin a session as a returning member",
				ArgsUsage: "SESSION_ID",
				Action:    sessionJoin,
			},
			{
				Name:      "request",
				Usage:     "Request a verified join and wait for the peers' verdict",
				ArgsUsage: "SESSION_ID",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "challenge",
						Usage: "Challenge string for peers to verify",
					},
				},
				Action: sessionRequest,
			},
			{
				Name:      "vouch",
				Usage:     "Submit a verdict for a pending join request",
				ArgsUsage: "SESSION_ID REQUEST_ID",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "deny",
						Usage: "Deny the request (bans the session)",
					},
				},
				Action: sessionVouch,
			},
		},
	}
}

func sessionCheck(c *cli.Context) error {
	sessionID := c.Args().First()
	if sessionID == "" {
		return fmt.Errorf("session ID required")
	}

	flags := ParseGlobalFlags(c)
	client, err := DialWire(flags)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), flags.Timeout)
	defer cancel()

	raw, err := client.Request(ctx, wireserver.TypeSessionCheck, map[string]any{
		"session_id": sessionID,
	})
	if err != nil {
		return err
	}

	var result struct {
		Exists           bool `json:"exists"`
		HasActiveClients bool `json:"has_active_clients"`
		Banned           bool `json:"banned"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("parse reply: %w", err)
	}

	if flags.Output == string(output.FormatJSON) {
		return (&output.JSONFormatter{}).Format(os.Stdout, result)
	}
	table := &output.Table{Headers: []string{"SESSION", "EXISTS", "ACTIVE", "BANNED"}}
	table.AddRow(sessionID,
		fmt.Sprintf("%t", result.Exists),
		fmt.Sprintf("%t", result.HasActiveClients),
		fmt.Sprintf("%t", result.Banned))
	return table.Render(os.Stdout)
}

func sessionCreate(c *cli.Context) error {
	sessionID := c.Args().First()
	if sessionID == "" {
		return fmt.Errorf("session ID required")
	}

	flags := ParseGlobalFlags(c)
	client, err := DialWire(flags)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), flags.Timeout)
	defer cancel()

	raw, err := client.Request(ctx, wireserver.TypeSessionCreate, map[string]any{
		"session_id":  sessionID,
		"passphrase":  c.String("passphrase"),
		"client_id":   flags.ClientID,
		"name":        flags.Name,
		"fingerprint": flags.Fingerprint,
	})
	if err != nil {
		return err
	}

	var result struct {
		IsNewSession bool `json:"is_new_session"`
		Member       struct {
			ClientID string `json:"client_id"`
		} `json:"member"`
		MemberCount int `json:"member_count"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("parse reply: %w", err)
	}

	fmt.Printf("Session %s ready (new: %t, members: %d)\n", sessionID, result.IsNewSession, result.MemberCount)
	fmt.Printf("  Client ID: %s\n", result.Member.ClientID)
	return nil
}

func sessionJoin(c *cli.Context) error {
	sessionID := c.Args().First()
	if sessionID == "" {
		return fmt.Errorf("session ID required")
	}

	flags := ParseGlobalFlags(c)
	client, err := DialWire(flags)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), flags.Timeout)
	defer cancel()

	raw, err := client.Request(ctx, wireserver.TypeSessionJoin, map[string]any{
		"session_id":  sessionID,
		"client_id":   flags.ClientID,
		"name":        flags.Name,
		"fingerprint": flags.Fingerprint,
	})
	if err != nil {
		return err
	}

	var result struct {
		Members []struct {
			ClientID string `json:"client_id"`
			Name     string `json:"name"`
			Active   bool   `json:"active"`
		} `json:"members"`
		MemberCount int `json:"member_count"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("parse reply: %w", err)
	}

	fmt.Printf("Joined %s (%d members)\n", sessionID, result.MemberCount)
	table := &output.Table{Headers: []string{"CLIENT", "NAME", "ACTIVE"}}
	for _, m := range result.Members {
		table.AddRow(m.ClientID, m.Name, fmt.Sprintf("%t", m.Active))
	}
	return table.Render(os.Stdout)
}

// sessionRequest asks to join a protected session and blocks until a
// peer vouches, the verification times out, or the session gets banned.
func sessionRequest(c *cli.Context) error {
	sessionID := c.Args().First()
	if sessionID == "" {
		return fmt.Errorf("session ID required")
	}

	flags := ParseGlobalFlags(c)
	client, err := DialWire(flags)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), flags.Timeout)
	defer cancel()

	raw, err := client.Request(ctx, wireserver.TypeVerifyRequest, map[string]any{
		"session_id":  sessionID,
		"client_id":   flags.ClientID,
		"name":        flags.Name,
		"fingerprint": flags.Fingerprint,
		"challenge":   c.String("challenge"),
	})
	if err != nil {
		return err
	}

	var result struct {
		Accepted       bool `json:"accepted"`
		AutoAuthorized bool `json:"auto_authorized"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("parse reply: %w", err)
	}
	if result.AutoAuthorized {
		fmt.Printf("Joined %s (no peers online, authorized directly)\n", sessionID)
		return nil
	}

	fmt.Println("Waiting for a peer to vouch...")
	for {
		env, err := client.NextEvent(ctx)
		if err != nil {
			return fmt.Errorf("waiting for verdict: %w", err)
		}
		switch env.Type {
		case "verification-result":
			var body struct {
				Approved bool `json:"approved"`
			}
			if err := json.Unmarshal(env.Data, &body); err != nil {
				return fmt.Errorf("parse verdict: %w", err)
			}
			if body.Approved {
				fmt.Printf("Approved, joined %s\n", sessionID)
				return nil
			}
			return fmt.Errorf("join denied by a session peer")
		case "verification-timeout":
			return fmt.Errorf("verification timed out")
		case "session-banned":
			return fmt.Errorf("session %s is banned", sessionID)
		}
	}
}

// sessionVouch answers a verify-join-request seen while watching the
// session. The request ID comes from that event's payload.
func sessionVouch(c *cli.Context) error {
	sessionID := c.Args().First()
	requestID := c.Args().Get(1)
	if sessionID == "" || requestID == "" {
		return fmt.Errorf("session ID and request ID required")
	}

	flags := ParseGlobalFlags(c)
	client, err := DialWire(flags)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), flags.Timeout)
	defer cancel()

	if err := joinAs(ctx, client, flags, sessionID); err != nil {
		return err
	}

	approved := !c.Bool("deny")
	if _, err := client.Request(ctx, wireserver.TypeVerifySubmit, map[string]any{
		"session_id": sessionID,
		"request_id": requestID,
		"approved":   approved,
	}); err != nil {
		return err
	}

	if approved {
		fmt.Println("Approved.")
	} else {
		fmt.Println("Denied; session is now banned.")
	}
	return nil
}
