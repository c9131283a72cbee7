package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/osteele/pbs-jobs/internal/feed"
	"github.com/osteele/pbs-jobs/internal/qstat"
)

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Print the local PBS job list as JSON (run on a PBS server)",
	Long: `Run qstat on this machine and print the job list in the format the
console reads. Install the binary on each server and set feed_command to
"pbs-jobs feed" in the console's configuration.

If qstat's output cannot be parsed, the cleaned output is written to
que.error.log in the current directory and the command exits with
status 1.`,
	RunE: runFeed,
}

var (
	feedQstatPath string
	feedErrorLog  string
)

func init() {
	rootCmd.AddCommand(feedCmd)

	feedCmd.Flags().StringVar(&feedQstatPath, "qstat", "/opt/pbs/bin/qstat", "Path to qstat")
	feedCmd.Flags().StringVar(&feedErrorLog, "error-log", "que.error.log", "Where to write unparseable qstat output")
	// Accepted for compatibility with "que.py --json"; output is always JSON
	feedCmd.Flags().Bool("json", true, "Print JSON")
}

func runFeed(cmd *cobra.Command, args []string) error {
	entries, err := qstat.New(feedQstatPath).Jobs(cmd.Context())
	if err != nil {
		var perr *feed.ParseError
		if errors.As(err, &perr) {
			fmt.Fprintln(os.Stderr, perr.Err)
			fmt.Fprintf(os.Stderr, "Error reading queue. See %s\n", feedErrorLog)
			if werr := os.WriteFile(feedErrorLog, perr.Raw, 0644); werr != nil {
				fmt.Fprintf(os.Stderr, "write %s: %v\n", feedErrorLog, werr)
			}
			os.Exit(1)
		}
		return err
	}

	return json.NewEncoder(os.Stdout).Encode(entries)
}
