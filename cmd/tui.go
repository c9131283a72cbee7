package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/osteele/pbs-jobs/internal/config"
	"github.com/osteele/pbs-jobs/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Interactive terminal UI for monitoring jobs",
	Long: `Launch an interactive terminal UI for the jobs of every server.

The TUI shows a split-screen view with:
  - Top panel: Job table, refreshed in the background
  - Bottom panel: Details or the followed log of the highlighted job

Keyboard shortcuts:
  Up/Down    Navigate job list
  l/Enter    Follow the highlighted job's log
  Escape     Close the log
  k/Delete   Kill highlighted job, then optionally delete its directory
  n          Submit a job from a mapped drive
  s          Cycle sort column
  f          Cycle status filter (all, R, Q)
  m          Only my jobs
  R          Refresh now
  Tab        Switch between jobs and servers
  Ctrl-C/q   Quit
  Ctrl-Z     Suspend (resume with 'fg')

Logs are written to ~/.config/pbs-jobs/pbs-jobs.log while the TUI runs.`,
	RunE: runTUI,
}

var tuiRefresh time.Duration

func init() {
	rootCmd.AddCommand(tuiCmd)

	tuiCmd.Flags().DurationVar(&tuiRefresh, "refresh", tui.DefaultRefreshInterval, "Job table refresh interval")
}

func runTUI(cmd *cobra.Command, args []string) error {
	// Log output would corrupt the alternate screen
	a, err := newApp(filepath.Join(config.ConfigDir(), "pbs-jobs.log"))
	if err != nil {
		return err
	}
	defer a.Close()

	opts := tui.DefaultModelOptions()
	opts.RefreshInterval = tuiRefresh
	opts.LogInterval = a.cfg.PollInterval()

	model := tui.NewModelWithOptions(cmd.Context(), tui.Services{
		Config:     a.cfg,
		Exec:       a.exec,
		Fetcher:    a.fetcher,
		Controller: a.ctl,
		Paths:      a.paths,
	}, opts)

	p := tea.NewProgram(
		model,
		tea.WithAltScreen(),
	)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run TUI: %w", err)
	}
	return nil
}
