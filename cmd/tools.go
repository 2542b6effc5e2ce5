// File: cmd/tools.go
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/webpilot-cli/internal/config"
	"github.com/xkilldash9x/webpilot-cli/internal/mcp"
	"github.com/xkilldash9x/webpilot-cli/internal/observability"
)

// newToolsCmd creates the `tools` command, which starts the configured tool
// server, performs the handshake, and prints the capabilities it exposes.
func newToolsCmd() *cobra.Command {
	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "Lists the tools the configured browser server exposes",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("mcp.command", cmd.Flags().Lookup("mcp-command")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewFromViper(viper.GetViper())
			if err != nil {
				return fmt.Errorf("failed to finalize configuration: %w", err)
			}

			transport := mcp.NewStdioTransport(cfg.MCP(), logger)
			session := mcp.NewSession(transport, cfg.MCP(), logger)
			if err := session.Start(ctx); err != nil {
				return fmt.Errorf("failed to start tool server: %w", err)
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), cfg.MCP().ShutdownGrace)
				defer cancel()
				_ = session.Close(closeCtx)
			}()

			initCtx, cancel := context.WithTimeout(ctx, cfg.MCP().InitTimeout)
			defer cancel()
			info, err := session.Initialize(initCtx)
			if err != nil {
				return fmt.Errorf("protocol handshake failed: %w", err)
			}

			tools, err := session.ListTools(ctx)
			if err != nil {
				return fmt.Errorf("failed to list tools: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Server: %s %s (protocol %s)\n",
				info.ServerInfo.Name, info.ServerInfo.Version, info.ProtocolVersion)
			for _, tool := range tools {
				if tool.Description != "" {
					fmt.Fprintf(out, "  %-24s %s\n", tool.Name, tool.Description)
				} else {
					fmt.Fprintf(out, "  %s\n", tool.Name)
				}
			}
			return nil
		},
	}

	toolsCmd.Flags().String("mcp-command", "", "Command that launches the browser tool server. (Overrides config/env)")

	return toolsCmd
}
