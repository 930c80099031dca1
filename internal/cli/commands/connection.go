package commands

import (
	"fmt"

	"github.com/reportmailer/internal/api/client"
	"github.com/spf13/cobra"
)

func NewConnectionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "connection",
		Short:   "Source database connections",
		Aliases: []string{"conn"},
	}
	cmd.AddCommand(newConnectionTestCommand())
	return cmd
}

func newConnectionTestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "test [connection_id]",
		Short: "Check that the server can reach a source database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %v", err)
			}

			if err := c.TestConnection(cmd.Context(), id); err != nil {
				return fmt.Errorf("connection %d failed: %v", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Connection %d OK\n", id)
			return nil
		},
	}
}
