package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fieldops-portal/internal/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "opsctl",
		Short: "opsctl - operations CLI for the field services portal",
		Long: `opsctl drives the portal API from the terminal: reviewing and
approving jobs, running bulk operations, and managing invoices and
payout batches.

Connection settings come from OPSCTL_API_URL and OPSCTL_TOKEN.`,
	}

	rootCmd.AddCommand(cli.JobsCmd())
	rootCmd.AddCommand(cli.BulkCmd())
	rootCmd.AddCommand(cli.InvoicesCmd())
	rootCmd.AddCommand(cli.PayoutsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
