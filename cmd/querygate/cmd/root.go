// Package cmd provides the CLI commands for querygate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/querygate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "querygate",
	Short: "querygate - permission-aware SQL query gateway",
	Long: `querygate authorizes structured data requests against a role policy and
runs them as parameterized SQL, masking columns the caller may only see
partially and recording one decision per request.

Quick start:
  1. Describe roles and tables in policy.yaml
  2. Create a config file: querygate.yaml
  3. Run: querygate serve

Configuration:
  Config is loaded from querygate.yaml in the current directory,
  $HOME/.querygate/, or /etc/querygate/.

  Environment variables can override config values with the QUERYGATE_ prefix.
  Example: QUERYGATE_DATABASE_DSN=postgres://localhost/app

Commands:
  serve       Start the HTTP API
  mcp         Serve MCP tools over stdio
  check       Validate a policy file
  hash-key    Generate a hash for an API key
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./querygate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
