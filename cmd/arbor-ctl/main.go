// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

// arbor-ctl is a command-line tool for controlling a running Arbor daemon.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/arborhq/arbor/pkg/client"
)

var (
	version    = "0.12"
	apiURL     = "http://localhost:4170"
	jsonOutput = false

	apiClient *client.Client
)

func main() {
	if env := os.Getenv("ARBOR_API"); env != "" {
		apiURL = strings.TrimSuffix(env, "/")
	}

	// Parse global flags and filter them out
	var filteredArgs []string
	for _, arg := range os.Args[1:] {
		if arg == "-json" {
			jsonOutput = true
		} else {
			filteredArgs = append(filteredArgs, arg)
		}
	}

	apiClient = client.New(apiURL)

	if len(filteredArgs) < 1 {
		printUsage()
		os.Exit(1)
	}

	cmd := filteredArgs[0]
	args := filteredArgs[1:]

	var err error
	switch cmd {
	case "sessions":
		err = cmdSessions(args)
	case "attach":
		err = cmdAttach(args)
	case "input":
		err = cmdInput(args)
	case "resize":
		err = cmdResize(args)
	case "history":
		err = cmdHistory(args)
	case "kill":
		err = cmdKill(args)
	case "workspace":
		err = cmdWorkspace(args)
	case "worktree":
		err = cmdWorktree(args)
	case "events":
		err = cmdEvents(args)
	case "version", "-v", "--version":
		fmt.Printf("arbor-ctl %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`arbor-ctl - Control a running Arbor daemon

Usage:
  arbor-ctl [-json] <command> [arguments]

Global Flags:
  -json          Output in JSON format

Environment:
  ARBOR_API      Base URL of Arbor API (default: http://localhost:4170)

Commands:
  sessions                 List terminal sessions
  attach <id> [dir]        Attach to (or create) a terminal session
  input <id> <text>        Send input to a session (a newline is appended)
  resize <id> <cols> <rows> Resize a session
  history <id>             Print a session's scrollback
  kill <id>                Kill a session

  workspace list           List workspaces
  workspace create <name>  Create a workspace
  workspace show <id>      Show one workspace's hierarchy

  worktree list            List the repository's git worktrees
  worktree resync          Force a fresh git worktree scan

  events [options]         Show recent events
    -n N                   Number of events (default: 20)
    -type <pattern>        Filter by type pattern (e.g., terminal.*)`)
}

func timeoutCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func cmdSessions(args []string) error {
	ctx, cancel := timeoutCtx()
	defer cancel()

	sessions, err := apiClient.Terminals.List(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(sessions)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions")
		return nil
	}
	fmt.Printf("%-24s %-8s %-10s %-8s %s\n", "ID", "PID", "STATE", "SIZE", "CWD")
	for _, s := range sessions {
		fmt.Printf("%-24s %-8d %-10s %-8s %s\n", s.ID, s.PID, s.State,
			fmt.Sprintf("%dx%d", s.Cols, s.Rows), s.CWD)
	}
	return nil
}

func cmdAttach(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: arbor-ctl attach <id> [dir]")
	}

	opts := &client.AttachOptions{}
	if len(args) > 1 {
		opts.CWD = args[1]
	}

	ctx, cancel := timeoutCtx()
	defer cancel()

	result, err := apiClient.Terminals.Attach(ctx, args[0], opts)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(result)
	}

	switch {
	case result.IsNew:
		fmt.Printf("Created session %s\n", result.ID)
	case result.IsColdRestore:
		fmt.Printf("Session %s restored from snapshot (process alive: %v)\n",
			result.ID, result.Snapshot != nil && result.Snapshot.ProcessAlive)
	default:
		fmt.Printf("Attached to session %s (%d bytes of scrollback)\n",
			result.ID, len(result.Scrollback))
	}
	return nil
}

func cmdInput(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: arbor-ctl input <id> <text>")
	}

	ctx, cancel := timeoutCtx()
	defer cancel()

	return apiClient.Terminals.Input(ctx, args[0], strings.Join(args[1:], " ")+"\n")
}

func cmdResize(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: arbor-ctl resize <id> <cols> <rows>")
	}
	cols, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid cols: %s", args[1])
	}
	rows, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid rows: %s", args[2])
	}

	ctx, cancel := timeoutCtx()
	defer cancel()

	return apiClient.Terminals.Resize(ctx, args[0], cols, rows)
}

func cmdHistory(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: arbor-ctl history <id>")
	}

	ctx, cancel := timeoutCtx()
	defer cancel()

	scrollback, err := apiClient.Terminals.History(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Print(scrollback)
	return nil
}

func cmdKill(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: arbor-ctl kill <id>")
	}

	ctx, cancel := timeoutCtx()
	defer cancel()

	if err := apiClient.Terminals.Kill(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Killed session %s\n", args[0])
	return nil
}

func cmdWorkspace(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: arbor-ctl workspace <list|create|show> [arguments]")
	}

	ctx, cancel := timeoutCtx()
	defer cancel()

	switch args[0] {
	case "list":
		workspaces, err := apiClient.Workspaces.List(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(workspaces)
		}
		if len(workspaces) == 0 {
			fmt.Println("No workspaces")
			return nil
		}
		for _, ws := range workspaces {
			fmt.Printf("%-36s %-20s %d worktrees\n", ws.ID, ws.Name, len(ws.Worktrees))
		}
		return nil

	case "create":
		if len(args) != 2 {
			return fmt.Errorf("usage: arbor-ctl workspace create <name>")
		}
		ws, err := apiClient.Workspaces.Create(ctx, args[1])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(ws)
		}
		fmt.Printf("Created workspace %s\n", ws.ID)
		return nil

	case "show":
		if len(args) != 2 {
			return fmt.Errorf("usage: arbor-ctl workspace show <id>")
		}
		ws, err := apiClient.Workspaces.Get(ctx, args[1])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(ws)
		}
		fmt.Printf("%s (%s)\n", ws.Name, ws.ID)
		for _, wt := range ws.Worktrees {
			marker := " "
			if wt.ID == ws.ActiveWorktreeID {
				marker = "*"
			}
			fmt.Printf("%s %s [%s] %s\n", marker, wt.Name, wt.Branch, wt.Path)
			for _, tab := range wt.Tabs {
				printTab(tab, ws.ActiveTabID, "    ")
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown workspace command: %s", args[0])
	}
}

func printTab(tab client.Tab, activeID, indent string) {
	marker := " "
	if tab.ID == activeID {
		marker = "*"
	}
	fmt.Printf("%s%s %s (%s)\n", indent, marker, tab.Name, tab.Type)
	for _, child := range tab.Children {
		printTab(child, activeID, indent+"  ")
	}
}

func cmdWorktree(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: arbor-ctl worktree <list|resync>")
	}

	ctx, cancel := timeoutCtx()
	defer cancel()

	var worktrees []client.WorktreeInfo
	var err error
	switch args[0] {
	case "list":
		worktrees, err = apiClient.Worktrees.List(ctx)
	case "resync":
		worktrees, err = apiClient.Worktrees.Resync(ctx)
	default:
		return fmt.Errorf("unknown worktree command: %s", args[0])
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(worktrees)
	}

	for _, wt := range worktrees {
		branch := wt.Branch
		if wt.Detached {
			branch = "(detached)"
		}
		if wt.IsBare {
			branch = "(bare)"
		}
		fmt.Printf("%-30s %s\n", branch, wt.Path)
	}
	return nil
}

func cmdEvents(args []string) error {
	opts := &client.ListOptions{Limit: 20}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-n":
			if i+1 >= len(args) {
				return fmt.Errorf("-n requires a value")
			}
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				return fmt.Errorf("invalid -n value: %s", args[i+1])
			}
			opts.Limit = n
			i++
		case "-type":
			if i+1 >= len(args) {
				return fmt.Errorf("-type requires a value")
			}
			opts.Types = append(opts.Types, args[i+1])
			i++
		default:
			return fmt.Errorf("unknown option: %s", args[i])
		}
	}

	ctx, cancel := timeoutCtx()
	defer cancel()

	events, err := apiClient.Events.List(ctx, opts)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(events)
	}

	for _, e := range events {
		fmt.Printf("%s  %-28s %s\n", e.Timestamp.Format("15:04:05"), e.Type, summarizePayload(e.Payload))
	}
	return nil
}

func summarizePayload(payload map[string]interface{}) string {
	if len(payload) == 0 {
		return ""
	}
	parts := make([]string, 0, len(payload))
	for _, key := range []string{"id", "tabId", "name", "path", "cause"} {
		if v, ok := payload[key]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", key, v))
		}
	}
	return strings.Join(parts, " ")
}
