package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/osteele/pbs-jobs/internal/tail"
)

var logCmd = &cobra.Command{
	Use:   "log <job-id>",
	Short: "Follow a job's log file",
	Long: `Follow the log file of a job (like tail -f) until Ctrl-C.

The log file is {Job_Path}/Simulation/messag unless tail.log_relpath is
configured. New output is fetched every few seconds; if the file shrinks
the last lines are shown again after a reset marker.

Examples:
  pbs-jobs log 123                 # Last 50 lines, then follow
  pbs-jobs log 123 -n 100          # Last 100 lines, then follow
  pbs-jobs log 123 --interval 10s  # Poll every 10 seconds`,
	Args: cobra.ExactArgs(1),
	RunE: runLog,
}

var (
	logLines    int
	logInterval time.Duration
)

func init() {
	rootCmd.AddCommand(logCmd)

	logCmd.Flags().IntVarP(&logLines, "lines", "n", 0, "Number of lines to show first (default: tail.lines)")
	logCmd.Flags().DurationVar(&logInterval, "interval", 0, "Poll interval (default: tail.poll_interval)")
}

func runLog(cmd *cobra.Command, args []string) error {
	a, err := newApp("")
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	table := a.fetchTable(ctx)
	r, err := table.FindByPartialID(args[0])
	if err != nil {
		return fmt.Errorf("%w (is the job still in the queue?)", err)
	}
	srv, ok := a.cfg.ServerByName(r.Server)
	if !ok {
		return fmt.Errorf("server %s not found in configuration", r.Server)
	}
	jobPath, ok := r.Path.Value()
	if !ok {
		return fmt.Errorf("job %s has no working directory", r.JobID)
	}

	lines := a.cfg.Tail.Lines
	if logLines > 0 {
		lines = logLines
	}
	interval := a.cfg.PollInterval()
	if logInterval > 0 {
		interval = logInterval
	}

	path := tail.LogPath(jobPath, a.cfg.Tail.LogRelPath)
	session := tail.New(a.exec, srv, path, tail.Options{Lines: lines, Timeout: a.cfg.ConnectionTimeout()})
	defer session.Close()

	initial, err := session.Open(ctx)
	if err != nil {
		return err
	}

	rule := strings.Repeat("=", 70)
	fmt.Printf("Viewing log for job: %s\n", r.JobID)
	fmt.Printf("  Job Name: %s\n", r.Name)
	fmt.Printf("  Server:   %s\n", srv.Name)
	fmt.Printf("  Log file: %s\n", path)
	fmt.Printf("%s\nPress Ctrl+C to stop watching the log\n%s\n\n", rule, rule)
	fmt.Print(initial.Text)

	err = session.Run(ctx, interval, func(c tail.Chunk) {
		fmt.Print(c.Text)
	})
	if err != nil && ctx.Err() == nil {
		return err
	}
	fmt.Printf("\n\n%s\nStopped watching log file\n%s\n", rule, rule)
	return nil
}
