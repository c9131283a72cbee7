package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List configured servers and their drives",
	Long: `List the configured servers with the drive letter mapped to each.

With --check every server is queried and the number of jobs or the
error is shown.`,
	RunE: runServers,
}

var serversCheck bool

func init() {
	rootCmd.AddCommand(serversCmd)

	serversCmd.Flags().BoolVar(&serversCheck, "check", false, "Query each server")
}

func runServers(cmd *cobra.Command, args []string) error {
	a, err := newApp("")
	if err != nil {
		return err
	}
	defer a.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if !serversCheck {
		fmt.Fprintln(w, "NAME\tHOSTNAME\tDRIVE\tKEY")
		for _, srv := range a.cfg.Servers {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", srv.Name, srv.Hostname, driveLabel(a, srv.Hostname), orDash(a.cfg.KeyFileFor(srv)))
		}
		return w.Flush()
	}

	_, report := a.fetcher.FetchAllWithReport(cmd.Context(), a.cfg.Servers)
	fmt.Fprintln(w, "NAME\tHOSTNAME\tDRIVE\tJOBS\tTIME\tSTATUS")
	for _, r := range report {
		status := "ok"
		if r.Err != nil {
			status = r.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.Server.Name, r.Server.Hostname, driveLabel(a, r.Server.Hostname), r.Count, r.Elapsed.Round(10*time.Millisecond), status)
	}
	return w.Flush()
}

func driveLabel(a *app, hostname string) string {
	if drive, ok := a.paths.DriveFor(hostname); ok {
		return drive + ":"
	}
	return "-"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
