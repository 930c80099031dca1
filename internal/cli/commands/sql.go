package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/reportmailer/internal/api/client"
	"github.com/spf13/cobra"
)

func NewSQLCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sql",
		Short: "SQL helpers",
	}
	cmd.AddCommand(newSQLParamsCommand())
	return cmd
}

func newSQLParamsCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "params [sql]",
		Short: "List the :name parameters of a SQL statement",
		Long:  "List the :name parameters of a SQL statement given as an argument, with --file, or on stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sqlText, err := readSQL(cmd, args, file)
			if err != nil {
				return err
			}
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %v", err)
			}

			params, err := c.SQLParameters(cmd.Context(), sqlText)
			if err != nil {
				return fmt.Errorf("failed to extract parameters: %v", err)
			}
			for _, p := range params {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the statement from a file")
	return cmd
}

func readSQL(cmd *cobra.Command, args []string, file string) (string, error) {
	switch {
	case len(args) == 1:
		return args[0], nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %v", file, err)
		}
		return string(data), nil
	default:
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %v", err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return "", fmt.Errorf("no SQL given")
		}
		return string(data), nil
	}
}
