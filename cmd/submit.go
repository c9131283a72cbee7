package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/osteele/pbs-jobs/internal/config"
	"github.com/osteele/pbs-jobs/internal/jobs"
	"github.com/osteele/pbs-jobs/internal/pathmap"
	"github.com/osteele/pbs-jobs/internal/stage"
)

var submitCmd = &cobra.Command{
	Use:   "submit [path]",
	Short: "Submit a job from a directory on a mapped drive",
	Long: `Submit the job in a directory (default: the current directory) with qsub.

When the directory is on a mapped drive the job is submitted in place on
the server that drive maps to. Otherwise its contents are first copied to
a destination on a mapped drive, chosen with --server and --dest or
interactively.

Examples:
  pbs-jobs submit                                  # Current directory
  pbs-jobs submit Z:\proj\run1                     # Directory on drive Z:
  pbs-jobs submit C:\work\run1 --server cluster-a --dest Z:\run1
  pbs-jobs submit --script run.pbs`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSubmit,
}

var (
	submitServer string
	submitDest   string
	submitScript string
	submitForce  bool
)

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringVar(&submitServer, "server", "", "Server to copy an unmapped directory to")
	submitCmd.Flags().StringVar(&submitDest, "dest", "", "Destination on the server's drive for an unmapped directory")
	submitCmd.Flags().StringVar(&submitScript, "script", "", "Submit script (default: pbs.submit_script_name)")
	submitCmd.Flags().BoolVar(&submitForce, "force", false, "Copy into a non-empty destination without asking")
}

// absLocal resolves a local path. Drive paths are kept as given so that
// they can be translated on any platform.
func absLocal(p string) (string, error) {
	if pathmap.RootToken(p) != "" {
		return p, nil
	}
	return filepath.Abs(p)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	a, err := newApp("")
	if err != nil {
		return err
	}
	defer a.Close()

	source := "."
	if len(args) > 0 {
		source = args[0]
	}
	local, err := absLocal(source)
	if err != nil {
		return err
	}
	if _, err := os.Stat(local); err != nil {
		return fmt.Errorf("path does not exist: %s", local)
	}

	host, remote, err := a.paths.ToRemote(local)
	if errors.Is(err, pathmap.ErrNotMapped) {
		fmt.Printf("%s is not on a mapped drive (%s)\n", local, joinDrives(a.paths.Drives()))
		host, remote, err = a.stageUnmapped(local)
	}
	if err != nil {
		return err
	}

	script := submitScript
	if script == "" {
		script = a.cfg.PBS.SubmitScriptName
	}
	fmt.Printf("Submitting job on %s...\n  Path:   %s\n  Script: %s\n", host, remote, script)

	result, err := a.ctl.Submit(cmd.Context(), host, remote, script)
	if err != nil {
		return err
	}
	fmt.Printf("Job submitted: %s\n\n", result.JobID)

	sorted, err := a.ctl.Table().SortBy(jobs.FieldJobID)
	if err != nil {
		return err
	}
	return printRecords(os.Stdout, sorted, false)
}

// stageUnmapped copies local to a destination on a server's drive and
// returns where it landed
func (a *app) stageUnmapped(local string) (host, remote string, err error) {
	srv, err := a.pickServer()
	if err != nil {
		return "", "", err
	}
	drive, ok := a.paths.DriveFor(srv.Hostname)
	if !ok {
		return "", "", fmt.Errorf("no drive mapping for server %s", srv.Name)
	}

	dest := submitDest
	for {
		if dest == "" {
			dest = prompt(fmt.Sprintf("Enter destination path (must start with %s:\\): ", drive))
		}
		if pathmap.RootToken(dest) != drive {
			if submitDest != "" {
				return "", "", fmt.Errorf("destination must be on drive %s: (server %s)", drive, srv.Name)
			}
			fmt.Printf("Destination must be on drive %s: (server %s)\n", drive, srv.Name)
			dest = ""
			continue
		}

		empty, err := stage.IsEmptyDir(dest)
		if err != nil {
			return "", "", err
		}
		if empty || submitForce {
			break
		}
		fmt.Printf("Warning: destination directory is not empty: %s\n", dest)
		if submitDest != "" {
			return "", "", errors.New("destination is not empty (use --force to copy anyway)")
		}
		if confirm("Continue anyway") {
			break
		}
		dest = ""
	}

	fmt.Printf("Copying files from %s to %s...\n", local, dest)
	files, n, err := stage.CopyDir(local, dest)
	if err != nil {
		return "", "", fmt.Errorf("copy files: %w", err)
	}
	fmt.Printf("Copied %d files (%s)\n", files, humanize.Bytes(uint64(n)))

	return a.paths.ToRemote(dest)
}

func (a *app) pickServer() (config.Server, error) {
	if submitServer != "" {
		srv, ok := a.cfg.ServerByName(submitServer)
		if !ok {
			return config.Server{}, fmt.Errorf("unknown server %q", submitServer)
		}
		return srv, nil
	}

	fmt.Println("Available servers:")
	for i, srv := range a.cfg.Servers {
		drive, ok := a.paths.DriveFor(srv.Hostname)
		if !ok {
			drive = "?"
		}
		fmt.Printf("  [%d] %s (Drive %s:)\n", i+1, srv.Name, drive)
	}
	n, err := strconv.Atoi(prompt("Select server (number): "))
	if err != nil || n < 1 || n > len(a.cfg.Servers) {
		return config.Server{}, errors.New("invalid server selection")
	}
	return a.cfg.Servers[n-1], nil
}

func joinDrives(drives []string) string {
	s := ""
	for i, d := range drives {
		if i > 0 {
			s += ", "
		}
		s += d + ":"
	}
	return s
}
