package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/osteele/pbs-jobs/internal/db"
)

var diagnosticsCmd = &cobra.Command{
	Use:     "diagnostics",
	Aliases: []string{"diag"},
	Short:   "Show unparseable feeds and the operation history",
	Long: `Show the feeds that could not be parsed and the recent submit, kill
and directory removal operations.

Examples:
  pbs-jobs diagnostics              # Recent feed errors and operations
  pbs-jobs diagnostics --show 3     # Full payload of feed error 3
  pbs-jobs diagnostics --cleanup 30 # Delete entries older than 30 days`,
	RunE: runDiagnostics,
}

var (
	diagLimit   int
	diagShow    int64
	diagServer  string
	diagCleanup int
)

func init() {
	rootCmd.AddCommand(diagnosticsCmd)

	diagnosticsCmd.Flags().IntVar(&diagLimit, "limit", 20, "Limit results")
	diagnosticsCmd.Flags().Int64Var(&diagShow, "show", 0, "Print the payload of a feed error")
	diagnosticsCmd.Flags().StringVar(&diagServer, "server", "", "Filter operations by server")
	diagnosticsCmd.Flags().IntVar(&diagCleanup, "cleanup", 0, "Delete entries older than N days")
}

func runDiagnostics(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig("")
	if err != nil {
		return err
	}
	database, err := db.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	if diagCleanup > 0 {
		deleted, err := db.CleanupOld(database, diagCleanup)
		if err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
		fmt.Printf("Deleted %d entries older than %d days\n", deleted, diagCleanup)
		return nil
	}

	if diagShow > 0 {
		e, err := db.GetFeedError(database, diagShow)
		if err != nil {
			return fmt.Errorf("get feed error: %w", err)
		}
		if e == nil {
			return errors.New("feed error not found")
		}
		fmt.Printf("Server:  %s\n", e.Server)
		fmt.Printf("Time:    %s\n", time.Unix(e.CreatedAt, 0).Format("2006-01-02 15:04:05"))
		fmt.Printf("Error:   %s\n", e.Message)
		fmt.Printf("Payload: %s\n\n%s\n", humanize.Bytes(uint64(len(e.Payload))), e.Payload)
		return nil
	}

	feedErrors, err := db.ListFeedErrors(database, diagLimit)
	if err != nil {
		return fmt.Errorf("list feed errors: %w", err)
	}
	ops, err := db.ListOperations(database, diagServer, diagLimit)
	if err != nil {
		return fmt.Errorf("list operations: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Feed errors:")
	if len(feedErrors) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, e := range feedErrors {
		fmt.Fprintf(w, "  %d\t%s\t%s\t%s\n", e.ID, e.Server, ago(e.CreatedAt), truncateMessage(e.Message, 60))
	}

	fmt.Fprintln(w, "\nOperations:")
	if len(ops) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, op := range ops {
		result := "ok"
		if op.Error != "" {
			result = truncateMessage(op.Error, 60)
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%s\n", ago(op.CreatedAt), op.Kind, op.Server, orDash(op.JobID), orDash(op.Path), result)
	}
	return w.Flush()
}

func ago(unix int64) string {
	return humanize.Time(time.Unix(unix, 0))
}

func truncateMessage(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
