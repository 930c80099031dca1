package main

import (
	"fmt"
	"os"

	"github.com/reportmailer/internal/cli/commands"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "reportctl",
	Short: "reportctl - command line client for the report mailer",
	Long: `reportctl talks to the report mailer API. It runs, downloads and schedules
reports, inspects their execution logs and checks source connections.

Set REPORTMAILER_API_URL and, when the server requires it, REPORTMAILER_API_TOKEN.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(commands.NewReportCommand())
	rootCmd.AddCommand(commands.NewSQLCommand())
	rootCmd.AddCommand(commands.NewConnectionCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
