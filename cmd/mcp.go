package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/joescharf/opsassist/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an MCP client classify queries, run pipelines and approve fix
plans. Configure the client with:

  {
    "mcpServers": {
      "opsassist": { "command": "opsassist", "args": ["mcp"] }
    }
  }

Available tools: ops_classify, ops_query, ops_list_plans, ops_approve_plan,
ops_reject_plan, ops_poll_execution`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	// stdout carries the protocol; logs must stay on stderr.
	a, err := newApp(logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()

	srv := mcp.NewServer(a.dispatcher, a.sessions, a.coordinator, buildVersion)
	return srv.ServeStdio(ctx)
}
