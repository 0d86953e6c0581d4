package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/VictorNanka/gemini-cli-mcp/internal/orchestration/mcp"
)

var (
	mcpConfigName string
	mcpConfigHTTP bool
)

var mcpConfigCmd = &cobra.Command{
	Use:   "mcp-config",
	Short: "Print an mcpServers entry for MCP clients",
	Long: `Print the JSON an MCP client needs to launch this server.

By default the entry starts this binary over stdio. With --http it points at
the HTTP transport configured in http.addr (or --http-addr).

Example:
  gemini-cli-mcp mcp-config > ~/.cursor/mcp.json
  gemini-cli-mcp mcp-config --http`,
	Args: cobra.NoArgs,
	RunE: runMCPConfig,
}

func init() {
	rootCmd.AddCommand(mcpConfigCmd)

	mcpConfigCmd.Flags().StringVar(&mcpConfigName, "name", mcp.DefaultServerName, "server key in mcpServers")
	mcpConfigCmd.Flags().BoolVar(&mcpConfigHTTP, "http", false, "emit an HTTP entry instead of stdio")
	mcpConfigCmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP address (overrides config)")
}

// serverArgs returns the arguments a client should pass to reproduce the
// current config selection.
func serverArgs() []string {
	if cfgFile == "" {
		return nil
	}
	abs, err := filepath.Abs(cfgFile)
	if err != nil {
		abs = cfgFile
	}
	return []string{"--config", abs}
}

func runMCPConfig(cmd *cobra.Command, _ []string) error {
	var (
		out string
		err error
	)
	if mcpConfigHTTP {
		addr := httpAddr
		if addr == "" {
			addr = cfg.HTTP.Addr
		}
		if addr == "" {
			return fmt.Errorf("no HTTP address: set http.addr or pass --http-addr")
		}
		out, err = mcp.GenerateHTTPConfig(mcpConfigName, addr)
	} else {
		exe, exeErr := os.Executable()
		if exeErr != nil {
			return fmt.Errorf("locating executable: %w", exeErr)
		}
		out, err = mcp.GenerateStdioConfig(mcpConfigName, exe, serverArgs(), nil)
	}
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}
