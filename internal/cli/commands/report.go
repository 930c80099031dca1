package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/reportmailer/internal/api/client"
	"github.com/reportmailer/internal/models"
	"github.com/spf13/cobra"
)

func NewReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "report",
		Short:   "Run, download and schedule reports",
		Aliases: []string{"reports", "r"},
	}

	cmd.AddCommand(newReportRunCommand())
	cmd.AddCommand(newReportDownloadCommand())
	cmd.AddCommand(newReportLogsCommand())
	cmd.AddCommand(newReportScheduleCommand())
	cmd.AddCommand(newReportUnscheduleCommand())

	return cmd
}

func newReportRunCommand() *cobra.Command {
	var queryID uint

	cmd := &cobra.Command{
		Use:   "run [report_id]",
		Short: "Queue a report run now",
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

			taskID, err := c.RunReport(cmd.Context(), id, queryID)
			if err != nil {
				return fmt.Errorf("failed to run report: %v", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Report %d queued (task %s)\n", id, taskID)
			return nil
		},
	}

	cmd.Flags().UintVar(&queryID, "query", 0, "Run only this query of the report, without sending email")
	return cmd
}

func newReportDownloadCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "download [report_id]",
		Short: "Build the report workbook and save it locally",
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

			d, err := c.DownloadReport(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("failed to download report: %v", err)
			}

			path := output
			if path == "" {
				path = filepath.Base(d.Filename)
			}
			if err := os.WriteFile(path, d.Data, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %v", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%d bytes)\n", path, len(d.Data))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (defaults to the server's file name)")
	return cmd
}

func newReportLogsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "logs [report_id]",
		Short: "Show the execution log of a report, newest first",
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

			logs, err := c.ReportLogs(cmd.Context(), id, limit)
			if err != nil {
				return fmt.Errorf("failed to get logs: %v", err)
			}
			printLogs(cmd, logs)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of entries")
	return cmd
}

func printLogs(cmd *cobra.Command, logs []models.ReportExecutionLog) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', tabwriter.TabIndent)
	fmt.Fprintln(w, "TIME\tRUN\tQUERY\tSTATUS\tMESSAGE\t")
	for _, l := range logs {
		query := "-"
		if l.QueryID != nil {
			query = strconv.FormatUint(uint64(*l.QueryID), 10)
		}
		run := l.RunID
		if len(run) > 8 {
			run = run[:8]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t\n",
			l.CreatedAt.Local().Format("2006-01-02 15:04:05"), run, query, l.Status, l.Message)
	}
	w.Flush()
}

type scheduleFlags struct {
	at       string
	every    string
	clock    string
	weekday  string
	monthday int
}

// spec turns the flags into a schedule: --at for one run, --every for a
// recurring one.
func (f scheduleFlags) spec() (models.ScheduleSpec, error) {
	switch {
	case f.at != "" && f.every != "":
		return models.ScheduleSpec{}, fmt.Errorf("--at and --every are mutually exclusive")
	case f.at != "":
		at, err := time.Parse(time.RFC3339, f.at)
		if err != nil {
			return models.ScheduleSpec{}, fmt.Errorf("invalid --at (want RFC3339): %v", err)
		}
		return models.ScheduleSpec{ExecuteAt: &at}, nil
	case f.every != "":
		return models.ScheduleSpec{
			Periodic: true,
			Type:     models.Periodicity(f.every),
			Time:     f.clock,
			Weekday:  f.weekday,
			Monthday: f.monthday,
		}, nil
	default:
		return models.ScheduleSpec{}, fmt.Errorf("one of --at or --every is required")
	}
}

func newReportScheduleCommand() *cobra.Command {
	var flags scheduleFlags

	cmd := &cobra.Command{
		Use:   "schedule [report_id]",
		Short: "Schedule a report once or on a recurring basis",
		Example: `  reportctl report schedule 3 --at 2024-05-01T08:00:00Z
  reportctl report schedule 3 --every weekly --time 08:30 --weekday mon
  reportctl report schedule 3 --every monthly --time 06:00 --monthday 1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			spec, err := flags.spec()
			if err != nil {
				return err
			}
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %v", err)
			}

			reg, err := c.ScheduleReport(cmd.Context(), id, spec)
			if err != nil {
				return fmt.Errorf("failed to schedule report: %v", err)
			}
			next := "-"
			if reg.NextRunAt != nil {
				next = reg.NextRunAt.Local().Format(time.RFC3339)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Report %d scheduled (%s, handle %d, next run %s)\n", id, reg.Kind, reg.ID, next)
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.at, "at", "", "Run once at this time (RFC3339)")
	cmd.Flags().StringVar(&flags.every, "every", "", "Recurrence: daily, weekly or monthly")
	cmd.Flags().StringVar(&flags.clock, "time", "", "Time of day for recurring runs (HH:MM)")
	cmd.Flags().StringVar(&flags.weekday, "weekday", "", "Weekday for weekly runs (mon..sun)")
	cmd.Flags().IntVar(&flags.monthday, "monthday", 0, "Day of month for monthly runs (1-31)")
	return cmd
}

func newReportUnscheduleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unschedule [schedule_handle]",
		Short: "Cancel a report schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %v", err)
			}

			if err := c.Unschedule(cmd.Context(), handle); err != nil {
				return fmt.Errorf("failed to unschedule: %v", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schedule %d cancelled\n", handle)
			return nil
		},
	}
}

func parseID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return uint(id), nil
}
