package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sprintdeck/orc/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets coding agents drive the orchestrator natively: start and cancel
sessions, read their output, and preview agent resolution. Configure in
Claude Code with:

  {
    "mcpServers": {
      "orc": { "command": "orc", "args": ["mcp"] }
    }
  }

Available tools: orc_start_session, orc_list_sessions, orc_get_session,
orc_session_output, orc_cancel_session, orc_resolve_agent`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}

		// Logs go to stderr; stdout carries the MCP protocol.
		logger := slog.New(slog.NewTextHandler(ui.ErrOut, nil))
		mgr := getManager(s, logger)

		return mcp.NewServer(s, mgr).ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
