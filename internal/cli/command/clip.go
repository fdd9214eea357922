// Package command provides CLI command definitions for clipmesh-cli.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/clipmesh/clipmesh-go/internal/cli/connection"
	"github.com/clipmesh/clipmesh-go/internal/cli/output"
	"github.com/clipmesh/clipmesh-go/internal/server/wireserver"
)

// ClipCommand returns the clipboard subcommand group.
func ClipCommand() *cli.Command {
	return &cli.Command{
		Name:  "clip",
		Usage: "Read, publish, and follow session clipboard state",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Print the current clipboard state of a session",
				ArgsUsage: "SESSION_ID",
				Action:    clipGet,
			},
			{
				Name:      "send",
				Usage:     "Publish text to a session clipboard",
				ArgsUsage: "SESSION_ID TEXT",
				Action:    clipSend,
			},
			{
				Name:      "watch",
				Usage:     "Stream session events until interrupted",
				ArgsUsage: "SESSION_ID",
				Action:    clipWatch,
			},
		},
	}
}

// joinAs rejoins the session so the connection is an authorized member
// before clipboard operations.
func joinAs(ctx context.Context, client *connection.WireClient, flags *GlobalFlags, sessionID string) error {
	_, err := client.Request(ctx, wireserver.TypeSessionJoin, map[string]any{
		"session_id":  sessionID,
		"client_id":   flags.ClientID,
		"name":        flags.Name,
		"fingerprint": flags.Fingerprint,
	})
	return err
}

func clipGet(c *cli.Context) error {
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

	if err := joinAs(ctx, client, flags, sessionID); err != nil {
		return err
	}

	raw, err := client.Request(ctx, wireserver.TypeClipGet, map[string]any{
		"session_id": sessionID,
	})
	if err != nil {
		return err
	}

	var result struct {
		State *struct {
			Type      string `json:"type"`
			Content   string `json:"content"`
			Subtype   string `json:"subtype,omitempty"`
			Timestamp int64  `json:"timestamp"`
			OriginID  string `json:"origin_id"`
		} `json:"state"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("parse reply: %w", err)
	}

	if result.State == nil {
		fmt.Println("Clipboard is empty.")
		return nil
	}
	if flags.Output == string(output.FormatJSON) {
		return (&output.JSONFormatter{}).Format(os.Stdout, result.State)
	}
	if result.State.Type == "text" {
		fmt.Println(result.State.Content)
		return nil
	}
	fmt.Printf("[%s content, %d bytes, from %s]\n",
		result.State.Type, len(result.State.Content), result.State.OriginID)
	return nil
}

func clipSend(c *cli.Context) error {
	sessionID := c.Args().First()
	text := c.Args().Get(1)
	if sessionID == "" || text == "" {
		return fmt.Errorf("session ID and text required")
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

	raw, err := client.Request(ctx, wireserver.TypeClipUpdate, map[string]any{
		"session_id": sessionID,
		"type":       "text",
		"content":    text,
		"timestamp":  time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}

	var result struct {
		Outcome string `json:"outcome"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("parse reply: %w", err)
	}
	if result.Outcome != "applied" {
		return fmt.Errorf("update not applied: %s", result.Outcome)
	}
	fmt.Println("Applied.")
	return nil
}

// clipWatch joins a session and prints events as they arrive, answering
// liveness probes so the membership stays active.
func clipWatch(c *cli.Context) error {
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

	joinCtx, cancel := context.WithTimeout(context.Background(), flags.Timeout)
	err = joinAs(joinCtx, client, flags, sessionID)
	cancel()
	if err != nil {
		return err
	}

	fmt.Printf("Watching %s (Ctrl+C to stop)\n", sessionID)
	ctx := context.Background()
	for {
		env, err := client.NextEvent(ctx)
		if err != nil {
			return fmt.Errorf("stream closed: %w", err)
		}
		if env.Type == "liveness-probe" {
			if err := client.Send(wireserver.TypePong, map[string]any{"session_id": sessionID}); err != nil {
				return fmt.Errorf("answer probe: %w", err)
			}
			continue
		}
		printEvent(env)
	}
}

func printEvent(env *wireserver.Envelope) {
	ts := time.Now().Format("15:04:05")
	switch env.Type {
	case "clipboard-broadcast":
		var body struct {
			State struct {
				Type     string `json:"type"`
				Content  string `json:"content"`
				OriginID string `json:"origin_id"`
			} `json:"state"`
		}
		if err := json.Unmarshal(env.Data, &body); err == nil {
			content := body.State.Content
			if body.State.Type != "text" {
				content = fmt.Sprintf("[%s, %d bytes]", body.State.Type, len(content))
			}
			fmt.Printf("%s clipboard from %s: %s\n", ts, body.State.OriginID, content)
			return
		}
	case "member-joined", "member-left", "member-count-update", "member-list-update",
		"session-banned", "session-invalid", "file-broadcast", "file-metadata", "file-chunk":
		// Fall through to the generic line below.
	}
	fmt.Printf("%s %s %s\n", ts, env.Type, string(env.Data))
}
