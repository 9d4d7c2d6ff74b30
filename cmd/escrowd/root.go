package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var (
	devMode  bool
	envFile  string
	logLevel string
	rpcURL   string
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "Run against an in-process devchain with generated funded identities")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file to load (missing file is ignored)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level, overrides LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&rpcURL, "rpc-url", "", "Node RPC endpoint, overrides NETWORK_RPC_URL")

	rootCmd.AddCommand(serveCmd, mcpCmd, deployCmd, infoCmd, eventsCmd, depositCmd, completeCmd, cancelCmd, withdrawCmd, balanceCmd)
}

var rootCmd = &cobra.Command{
	Use:           "escrowd",
	Short:         "Three-party checklist escrow service",
	Long:          "Deploys and drives escrow agreements in which an arbiter releases a payer's deposit to a beneficiary once every checklist requirement is completed.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// printJSON writes v indented to w
func printJSON(w io.Writer, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
