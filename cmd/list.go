package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/osteele/pbs-jobs/internal/fetch"
	"github.com/osteele/pbs-jobs/internal/jobs"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs on all servers",
	Long: `Fetch the job list of every configured server and print one table.

Servers that cannot be reached are reported on stderr and contribute no
jobs.

Examples:
  pbs-jobs list                    # All jobs, sorted by job ID
  pbs-jobs list --sort CPUs        # Sort by CPU count
  pbs-jobs list --status R         # Running jobs only
  pbs-jobs list --mine             # My jobs
  pbs-jobs list --server cluster-a # Jobs on one server`,
	RunE: runList,
}

var (
	listSort   string
	listStatus string
	listOwner  string
	listServer string
	listMine   bool
	listWide   bool
)

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVar(&listSort, "sort", string(jobs.FieldJobID), "Sort by: "+sortFieldNames())
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (R, Q, ...)")
	listCmd.Flags().StringVar(&listOwner, "owner", "", "Filter by owner")
	listCmd.Flags().StringVar(&listServer, "server", "", "Filter by server name")
	listCmd.Flags().BoolVar(&listMine, "mine", false, "Show only jobs owned by the configured user")
	listCmd.Flags().BoolVar(&listWide, "wide", false, "Do not truncate columns")
}

func sortFieldNames() string {
	names := make([]string, len(jobs.SortFields))
	for i, f := range jobs.SortFields {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

func runList(cmd *cobra.Command, args []string) error {
	field, err := jobs.ParseSortField(listSort)
	if err != nil {
		return err
	}

	a, err := newApp("")
	if err != nil {
		return err
	}
	defer a.Close()

	start := time.Now()
	records, report := a.fetcher.FetchAllWithReport(cmd.Context(), a.cfg.Servers)
	printFetchReport(os.Stderr, report)

	owner := listOwner
	if listMine {
		owner = a.cfg.RemoteUser()
	}
	var preds []func(jobs.Record) bool
	if listStatus != "" {
		preds = append(preds, jobs.ByStatus(listStatus))
	}
	if owner != "" {
		preds = append(preds, jobs.ByOwner(owner))
	}
	if listServer != "" {
		preds = append(preds, jobs.ByServer(listServer))
	}

	table := jobs.NewTable(jobs.NewTable(records).Filter(jobs.All(preds...)))
	sorted, err := table.SortBy(field)
	if err != nil {
		return err
	}
	if err := printRecords(os.Stdout, sorted, listWide); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "(%d jobs, fetched in %s)\n", len(sorted), time.Since(start).Round(time.Millisecond))
	return nil
}

// printFetchReport lists the servers that contributed no jobs because of an error
func printFetchReport(w io.Writer, report []fetch.ServerResult) {
	for _, r := range report {
		if r.Err != nil {
			fmt.Fprintf(w, "Warning: %s: %v\n", r.Server.Name, r.Err)
		}
	}
}

func printRecords(out io.Writer, records []jobs.Record, wide bool) error {
	if len(records) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	header := make([]string, len(jobs.Columns))
	for i, c := range jobs.Columns {
		header[i] = strings.ToUpper(string(c.Field))
	}
	fmt.Fprintln(w, strings.Join(header, "\t"))

	row := make([]string, len(jobs.Columns))
	for _, r := range records {
		for i, c := range jobs.Columns {
			v := r.Display(c.Field)
			if !wide {
				v = jobs.Truncate(v, c.Width)
			}
			row[i] = v
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return w.Flush()
}

// fetchTable fetches all servers into the controller's table
func (a *app) fetchTable(ctx context.Context) *jobs.Table {
	records, report := a.fetcher.FetchAllWithReport(ctx, a.cfg.Servers)
	printFetchReport(os.Stderr, report)
	table := jobs.NewTable(records)
	a.ctl.SetTable(table)
	return table
}
