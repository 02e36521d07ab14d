// Cortex: persistent knowledge MCP server
//
// An MCP server that gives AI coding tools (Claude Code, OpenCode,
// Gemini CLI, Codex, Cursor, VS Code Copilot) a durable memory across
// sessions: notes, saved prompts, plans with tracked steps, and session
// timelines, all in one searchable local SQLite store.
//
// Usage:
//
//	cortex serve    # Start MCP server (stdio transport)
//	cortex status   # Show store counts
//	cortex export   # Dump the store as JSON
//	cortex update   # Update to the latest version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cortex",
	Short: "Cortex - persistent knowledge store for AI coding tools",
	Long: `Cortex is an MCP server that gives AI coding assistants a durable
memory across sessions: notes, saved prompts, plans with tracked steps,
and session timelines, all in one searchable local SQLite store.

Running cortex with no arguments starts the MCP server on stdio.

Add it to your AI tool's MCP config:

  {
    "mcpServers": {
      "cortex": {
        "command": "cortex",
        "args": ["serve"]
      }
    }
  }

Learn more: https://github.com/HendryAvila/cortex`,
	RunE: runServe,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
