// Command escrowd runs and drives three-party checklist escrow agreements.
//
// It serves the REST API (serve), the MCP tool server (mcp) and offers one
// shot commands for every agreement operation. With --dev everything runs
// against an in-process devchain with freshly generated funded identities.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
