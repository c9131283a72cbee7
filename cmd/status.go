package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/osteele/pbs-jobs/internal/db"
	"github.com/osteele/pbs-jobs/internal/jobs"
	"github.com/osteele/pbs-jobs/internal/log"
	"github.com/osteele/pbs-jobs/internal/ssh"
	"github.com/osteele/pbs-jobs/internal/tail"
)

// Exit codes
const (
	ExitRunning  = 0
	ExitFailed   = 1
	ExitWaiting  = 2
	ExitNotFound = 3
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the details of a specific job",
	Long: `Show the details of a specific job: its fields, the local path of its
working directory, the last lines of its log, and the operations recorded
for it.

Exit codes:
  0: Job is running
  1: Error
  2: Job is queued, held or waiting
  3: Job is not in any queue (finished or unknown)

Example:
  pbs-jobs status 98123`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

var statusLines int

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().IntVarP(&statusLines, "lines", "n", 5, "Log lines to show (0 to skip the log)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp("")
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	table := a.fetchTable(ctx)
	r, err := table.FindByPartialID(args[0])
	if err != nil {
		fmt.Printf("Job %s not found in any queue\n", args[0])
		a.Close()
		os.Exit(ExitNotFound)
	}

	printJobStatus(a, r)

	if statusLines > 0 {
		if output := a.lastLogLines(ctx, r, statusLines); output != "" {
			fmt.Println()
			fmt.Println("Last output:")
			fmt.Println(strings.TrimRight(output, "\n"))
		}
	}

	if a.db != nil {
		ops, err := db.ListOperations(a.db, r.Server, 50)
		if err != nil {
			log.Logger().Warn("list operations", zap.Error(err))
		}
		var shown bool
		for _, op := range ops {
			if op.JobID != r.JobID {
				continue
			}
			if !shown {
				fmt.Println()
				fmt.Println("History:")
				shown = true
			}
			outcome := "ok"
			if op.Error != "" {
				outcome = op.Error
			}
			fmt.Printf("  %-15s %-15s %s\n", op.Kind, ago(op.CreatedAt), outcome)
		}
	}

	a.Close()
	if r.Running() {
		os.Exit(ExitRunning)
	}
	os.Exit(ExitWaiting)
	return nil
}

func printJobStatus(a *app, r jobs.Record) {
	fmt.Printf("Job ID:   %s\n", r.JobID)
	fmt.Printf("Server:   %s\n", r.Server)
	fmt.Printf("Name:     %s\n", r.Name)
	fmt.Printf("Status:   %s\n", r.Status)
	fmt.Printf("Owner:    %s\n", r.Owner)
	fmt.Printf("CPUs:     %s\n", r.CPUs)
	fmt.Printf("Memory:   %s\n", r.Memory)
	fmt.Printf("Path:     %s\n", r.Path)

	if p, ok := r.Path.Value(); ok {
		if srv, found := a.cfg.ServerByName(r.Server); found {
			if local, err := a.paths.ToLocal(srv.Hostname, p); err == nil {
				fmt.Printf("Local:    %s\n", local)
			}
		}
	}
}

// lastLogLines returns the end of the job's log, or "" when it cannot be read
func (a *app) lastLogLines(ctx context.Context, r jobs.Record, n int) string {
	jobPath, ok := r.Path.Value()
	if !ok {
		return ""
	}
	srv, ok := a.cfg.ServerByName(r.Server)
	if !ok {
		return ""
	}
	cmdCtx, cancel := ssh.WithTimeout(ctx, a.cfg.ConnectionTimeout())
	defer cancel()
	path := tail.LogPath(jobPath, a.cfg.Tail.LogRelPath)
	output, err := ssh.Output(cmdCtx, a.exec, srv, fmt.Sprintf("tail -n %d %s 2>/dev/null", n, ssh.Quote(path)))
	if err != nil {
		log.Logger().Debug("read log", zap.String("path", path), zap.Error(err))
		return ""
	}
	return output
}
