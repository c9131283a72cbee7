package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var killCmd = &cobra.Command{
	Use:   "kill <job-id>",
	Short: "Kill a job",
	Long: `Kill a job with qdel on the server that runs it.

The job ID may be partial: "123" matches "123.server1". When several jobs
match, the first one in the table is killed. After a successful kill you
are asked separately whether to delete the job's working directory.

Examples:
  pbs-jobs kill 123
  pbs-jobs kill 123.server1 --server cluster-a
  pbs-jobs kill 123 --keep-dir`,
	Args: cobra.ExactArgs(1),
	RunE: runKill,
}

var (
	killServer  string
	killKeepDir bool
)

func init() {
	rootCmd.AddCommand(killCmd)

	killCmd.Flags().StringVar(&killServer, "server", "", "Server name (default: look the job up in the job list)")
	killCmd.Flags().BoolVar(&killKeepDir, "keep-dir", false, "Do not offer to delete the job directory")
}

func runKill(cmd *cobra.Command, args []string) error {
	a, err := newApp("")
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	a.fetchTable(ctx)

	srv, r, err := a.ctl.Resolve(args[0], killServer)
	if err != nil {
		return err
	}
	fmt.Printf("Killing job %s on %s...\n", r.JobID, srv.Name)

	result, err := a.ctl.Kill(ctx, r.JobID, srv.Name)
	if err != nil {
		return err
	}
	fmt.Printf("Job %s killed\n", result.JobID)

	if killKeepDir || result.Path == "" {
		return nil
	}
	if !confirm(fmt.Sprintf("\nDelete job directory %s", result.Path)) {
		fmt.Printf("Retained job directory: %s\n", result.Path)
		return nil
	}
	if err := a.ctl.RemoveWorkDir(ctx, result); err != nil {
		return err
	}
	fmt.Printf("Deleted job directory: %s\n", result.Path)
	return nil
}
